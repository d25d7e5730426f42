package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrMissingPayload    = errors.New("event payload missing")
)
