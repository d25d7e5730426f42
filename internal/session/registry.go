package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"examroom/internal/observability/metrics"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

const defaultPersistTimeout = 10 * time.Second

// Registry maps live connection ids to their sessions. An entry exists
// exactly while the connection is live.
type Registry struct {
	store          interfaces.SessionStore
	sessions       map[string]*Session // connectionID -> Session
	mu             sync.RWMutex
	logger         *logging.Logger
	metrics        *metrics.Metrics
	persistTimeout time.Duration
	now            func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryMetrics tracks active sessions and archive saves.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithPersistTimeout bounds the save on disconnect.
func WithPersistTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.persistTimeout = d
		}
	}
}

// WithRegistryClock overrides time.Now for connect and end times.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry. store may be nil, in which case sessions
// are dropped on disconnect without persistence.
func NewRegistry(store interfaces.SessionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:          store,
		sessions:       make(map[string]*Session),
		logger:         logging.Default(),
		persistTimeout: defaultPersistTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnConnect creates and stores a fresh session in part 1.
func (r *Registry) OnConnect(connectionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connectionID]; exists {
		return nil, ErrSessionExists
	}
	sess := newSession(uuid.New().String(), connectionID, r.now())
	r.sessions[connectionID] = sess
	r.metrics.SessionOpened()

	r.logger.Info("session created", "session_id", sess.ID, "connection_id", connectionID)
	return sess, nil
}

// Get returns the session for a live connection or ErrSessionNotFound.
func (r *Registry) Get(connectionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connectionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// OnDisconnect cancels any pending transition, hands the session to the
// store, and removes it. Removal happens even when persistence fails; the
// persistence error is returned for logging only.
func (r *Registry) OnDisconnect(ctx context.Context, connectionID string) error {
	r.mu.RLock()
	sess, ok := r.sessions[connectionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	defer func() {
		r.mu.Lock()
		delete(r.sessions, connectionID)
		r.mu.Unlock()
		r.metrics.SessionClosed()
	}()

	sess.scheduler.Cancel()
	record := sess.Record(r.now())

	log := r.logger.With("session_id", sess.ID, "connection_id", connectionID)
	log.Info("session ended",
		"turns", len(record.Turns),
		"current_part", record.CurrentPart,
		"completed", record.Completed,
		"duration_ms", record.Duration().Milliseconds(),
	)

	if r.store == nil {
		return nil
	}
	// Save is detached from ctx cancellation but bounded by persistTimeout.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()
	err := r.store.Save(saveCtx, record)
	r.metrics.ObserveArchiveSave(err)
	if err != nil {
		log.Warn("session persistence failed", "error", err)
	}
	return err
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns stats for every live session, oldest first.
func (r *Registry) List() []types.SessionStats {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	now := r.now()
	out := make([]types.SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats(now))
	}
	return out
}
