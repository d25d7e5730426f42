package hub

import (
	"errors"

	"examroom/pkg/interfaces"
)

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrLaneExists        = errors.New("lane already open")
	ErrLaneNotFound      = errors.New("lane not found")
	ErrLaneFull          = interfaces.ErrLaneFull
)
