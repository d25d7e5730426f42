package session

import (
	"errors"

	"examroom/pkg/interfaces"
)

var (
	// ErrSessionNotFound is returned by Registry.Get for unknown connections.
	ErrSessionNotFound = interfaces.ErrSessionNotFound
	ErrSessionExists   = errors.New("session already registered for connection")
	ErrInvalidQuota    = errors.New("part quota must be greater than 0")
)
