package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyFrame = errors.New("empty frame")
)

// DecodeError describes why an inbound frame was rejected.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}
