package archive

import (
	"context"
	"errors"
	"fmt"

	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

// Named pairs a store with the name used in logs and errors.
type Named struct {
	Name  string
	Store interfaces.SessionStore
}

// Multi fans Save out to every store and serves Load from the first that has the record.
type Multi struct {
	stores []Named
	logger *logging.Logger
}

// NewMulti combines stores in order. At least one store is required.
func NewMulti(logger *logging.Logger, stores ...Named) (*Multi, error) {
	if len(stores) == 0 {
		return nil, ErrNoStores
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Multi{stores: stores, logger: logger.With("component", "archive")}, nil
}

// Save writes to every store, even after a failure, and joins the errors.
func (m *Multi) Save(ctx context.Context, record *types.SessionRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	var errs []error
	for _, s := range m.stores {
		if err := s.Store.Save(ctx, record); err != nil {
			m.logger.Warn("archive sink failed", "sink", s.Name, "session_id", record.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Load tries stores in order. Not-found answers fall through; other errors
// are remembered and returned only if no store has the record.
func (m *Multi) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	var errs []error
	for _, s := range m.stores {
		record, err := s.Store.Load(ctx, sessionID)
		if err == nil {
			return record, nil
		}
		if errors.Is(err, interfaces.ErrSessionNotFound) || errors.Is(err, ErrLoadNotFound) {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, interfaces.ErrSessionNotFound
}

// Names lists the configured sinks in order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name
	}
	return names
}
