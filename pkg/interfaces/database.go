package interfaces

import (
	"context"

	"examroom/pkg/types"
)

// SessionStore persists finished sessions.
type SessionStore interface {
	// Save stores the record. Callers treat failures as best-effort.
	Save(ctx context.Context, record *types.SessionRecord) error

	// Load returns a stored record or ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*types.SessionRecord, error)
}
