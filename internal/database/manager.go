// Package database archives finished assessment sessions in sqlite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	dbconfig "examroom/pkg/database"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

const (
	writeQueueSize      = 100
	defaultWriteTimeout = 30 * time.Second
	defaultRetryDelay   = 5 * time.Second
)

// Summary is one archived session without its turns.
type Summary struct {
	SessionID     string    `json:"sessionId"`
	ConnectionID  string    `json:"connectionId"`
	ConnectedAt   time.Time `json:"connectedAt"`
	EndedAt       time.Time `json:"endedAt"`
	CurrentPart   int       `json:"currentPart"`
	QuestionCount int       `json:"questionCount"`
	Completed     bool      `json:"completed"`
	Turns         int       `json:"turns"`
}

// Manager is the sqlite session archive. Reads go straight to the pool;
// writes are funnelled through one goroutine since sqlite allows a single writer.
type Manager struct {
	db           *sql.DB
	logger       *logging.Logger
	writeChannel chan writeOperation
	writeTimeout time.Duration
	retryDelay   time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRetryDelay sets the pause before the single retry of a failed write.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// NewManager opens the archive at config and applies pending migrations.
func NewManager(config *dbconfig.Config, opts ...Option) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	return newManager(db, opts...), nil
}

func newManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:           db,
		logger:       logging.Default(),
		writeChannel: make(chan writeOperation, writeQueueSize),
		writeTimeout: defaultWriteTimeout,
		retryDelay:   defaultRetryDelay,
		shutdown:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "archive.sqlite")

	m.wg.Add(1)
	go m.writeLoop()
	return m
}

// writeLoop runs every write; a failed write is retried exactly once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil && op.ctx.Err() == nil {
				m.logger.Warn("archive write failed, retrying", "error", err, "delay", m.retryDelay)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
				case <-op.ctx.Done():
					err = errors.Join(err, op.ctx.Err())
				}
				if err != nil {
					m.logger.Error("archive write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// Save stores record and replaces any turns archived earlier under the same session id.
func (m *Manager) Save(ctx context.Context, record *types.SessionRecord) error {
	if record == nil {
		return ErrNilRecord
	}

	var evaluation sql.NullString
	if record.Evaluation != nil {
		data, err := json.Marshal(record.Evaluation)
		if err != nil {
			return fmt.Errorf("failed to marshal evaluation: %w", err)
		}
		evaluation = sql.NullString{String: string(data), Valid: true}
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, connection_id, connected_at, ended_at, current_part, question_count, completed, evaluation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				ended_at = excluded.ended_at,
				current_part = excluded.current_part,
				question_count = excluded.question_count,
				completed = excluded.completed,
				evaluation = excluded.evaluation
		`,
			record.SessionID,
			record.ConnectionID,
			record.ConnectedAt.UTC(),
			nullTime(record.EndedAt),
			record.CurrentPart,
			record.QuestionCount,
			record.Completed,
			evaluation,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, record.SessionID); err != nil {
			return fmt.Errorf("failed to clear turns: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO turns (session_id, seq, speaker, content, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare turn insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, turn := range record.Turns {
			if _, err := stmt.ExecContext(ctx, record.SessionID, i, string(turn.Speaker), turn.Content, turn.Timestamp.UTC()); err != nil {
				return fmt.Errorf("failed to insert turn %d: %w", i, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session archive: %w", err)
		}
		return nil
	})
}

// Load returns the archived record or interfaces.ErrSessionNotFound.
func (m *Manager) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, connection_id, connected_at, ended_at, current_part, question_count, completed, evaluation
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var (
		record     types.SessionRecord
		endedAt    sql.NullTime
		evaluation sql.NullString
	)
	err := row.Scan(
		&record.SessionID,
		&record.ConnectionID,
		&record.ConnectedAt,
		&endedAt,
		&record.CurrentPart,
		&record.QuestionCount,
		&record.Completed,
		&evaluation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if endedAt.Valid {
		record.EndedAt = endedAt.Time
	}
	if evaluation.Valid {
		var final types.FinalEvaluation
		if err := json.Unmarshal([]byte(evaluation.String), &final); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
		}
		record.Evaluation = &final
	}

	turns, err := m.loadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	record.Turns = turns
	return &record, nil
}

func (m *Manager) loadTurns(ctx context.Context, sessionID string) ([]types.Turn, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT speaker, content, timestamp
		FROM turns
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := []types.Turn{}
	for rows.Next() {
		var (
			turn    types.Turn
			speaker string
		)
		if err := rows.Scan(&speaker, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Speaker = types.Speaker(speaker)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

// ListRecent returns up to limit archived sessions, most recently ended first.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		return []Summary{}, nil
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT s.id, s.connection_id, s.connected_at, s.ended_at, s.current_part, s.question_count, s.completed,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		ORDER BY s.ended_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []Summary{}
	for rows.Next() {
		var (
			s       Summary
			endedAt sql.NullTime
		)
		if err := rows.Scan(&s.SessionID, &s.ConnectionID, &s.ConnectedAt, &endedAt,
			&s.CurrentPart, &s.QuestionCount, &s.Completed, &s.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if endedAt.Valid {
			s.EndedAt = endedAt.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return summaries, nil
}

// HealthCheck pings the database and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the pool for schema validation.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
