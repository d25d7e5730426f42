package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrLaneFull is returned by a Poster whose queue cannot take another job.
	ErrLaneFull = errors.New("lane queue is full")
)
