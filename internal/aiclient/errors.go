package aiclient

import "errors"

var (
	ErrBaseURLRequired = errors.New("aiclient: base URL is required")
	ErrUpstreamStatus  = errors.New("aiclient: upstream returned non-2xx status")
	ErrEmptyResponse   = errors.New("aiclient: upstream returned no usable content")
)
