package api

import "errors"

var (
	ErrArchiveDisabled = errors.New("session archive is not configured")
	ErrMissingSession  = errors.New("session id required")
)
