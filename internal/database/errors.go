package database

import "errors"

var (
	ErrManagerClosed = errors.New("session archive is closed")
	ErrWriteTimeout  = errors.New("archive write timed out")
	ErrNilRecord     = errors.New("session record cannot be nil")
)
