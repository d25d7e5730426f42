package archive

import (
	"context"

	"examroom/pkg/types"
)

// Saver is the upstream save-session call.
type Saver interface {
	SaveSession(ctx context.Context, record *types.SessionRecord) error
}

// Remote forwards finished sessions to the scoring service. It cannot read them back.
type Remote struct {
	saver Saver
}

// NewRemote wraps the upstream save-session call.
func NewRemote(saver Saver) (*Remote, error) {
	if saver == nil {
		return nil, ErrRemoteNil
	}
	return &Remote{saver: saver}, nil
}

// Save posts record upstream.
func (r *Remote) Save(ctx context.Context, record *types.SessionRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	return r.saver.SaveSession(ctx, record)
}

// Load always reports ErrLoadNotFound; the upstream is write-only.
func (r *Remote) Load(context.Context, string) (*types.SessionRecord, error) {
	return nil, ErrLoadNotFound
}
