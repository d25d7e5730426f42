// Package archive holds the SessionStore sinks besides sqlite: a Redis
// transcript cache, the upstream save-session call, and a fan-out over both.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

const (
	DefaultTTL       = 24 * time.Hour
	defaultKeyPrefix = "examroom:session:"
)

// RedisStore caches finished session records as JSON blobs with a TTL.
type RedisStore struct {
	redis     *redis.Client
	tracer    trace.Tracer
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore wraps client. ttl <= 0 uses DefaultTTL; a nil tracer uses the global provider.
func NewRedisStore(client *redis.Client, ttl time.Duration, tracer trace.Tracer) (*RedisStore, error) {
	if client == nil {
		return nil, ErrRedisNil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if tracer == nil {
		tracer = otel.Tracer("examroom.internal.archive.redis")
	}
	return &RedisStore{
		redis:     client,
		tracer:    tracer,
		ttl:       ttl,
		keyPrefix: defaultKeyPrefix,
	}, nil
}

// Save stores record as JSON under its session id with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, record *types.SessionRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	ctx, span := s.tracer.Start(ctx, "archive.redis.save",
		trace.WithAttributes(attribute.String("session.id", record.SessionID)))
	defer span.End()

	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("archive: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(record.SessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("archive: failed to cache session: %w", err)
	}
	return nil
}

// Load returns the cached record or interfaces.ErrSessionNotFound once expired.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "archive.redis.load",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, interfaces.ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("archive: failed to load session: %w", err)
	}

	var record types.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("archive: failed to decode session: %w", err)
	}
	return &record, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}
