package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "EXAMROOM_"

type lookupFunc func(string) (string, bool)

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) setString(name string, dst *string) {
	if v, ok := r.lookup(envPrefix + name); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) setInt(name string, dst *int) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) setInt64(name string, dst *int64) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) setBool(name string, dst *bool) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = b
}

func (r *envReader) setDuration(name string, dst *time.Duration) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = d
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.setString("HTTP_HOST", &c.HTTP.Host)
	r.setInt("HTTP_PORT", &c.HTTP.Port)
	r.setDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	r.setDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	r.setDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	r.setBool("HTTP_METRICS", &c.HTTP.Metrics)

	r.setInt64("WEBSOCKET_READ_LIMIT", &c.WebSocket.ReadLimit)
	r.setDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	r.setDuration("WEBSOCKET_PONG_WAIT", &c.WebSocket.PongWait)
	r.setDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)

	r.setString("DATABASE_PATH", &c.Database.DatabasePath)
	r.setInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	r.setBool("ARCHIVE_SQLITE", &c.Archive.SQLite)
	r.setBool("ARCHIVE_REMOTE", &c.Archive.Remote)
	r.setDuration("ARCHIVE_PERSIST_TIMEOUT", &c.Archive.PersistTimeout)

	r.setBool("REDIS_ENABLED", &c.Redis.Enabled)
	r.setString("REDIS_ADDR", &c.Redis.Addr)
	r.setString("REDIS_PASSWORD", &c.Redis.Password)
	r.setInt("REDIS_DB", &c.Redis.DB)
	r.setDuration("REDIS_TTL", &c.Redis.TTL)

	r.setString("AI_BASE_URL", &c.AI.BaseURL)
	r.setDuration("AI_TRANSCRIBE_TIMEOUT", &c.AI.Timeouts.Transcribe)
	r.setDuration("AI_SPEECH_TIMEOUT", &c.AI.Timeouts.Speech)
	r.setDuration("AI_EXAMINER_TIMEOUT", &c.AI.Timeouts.Examiner)
	r.setDuration("AI_EVALUATE_TIMEOUT", &c.AI.Timeouts.Evaluate)

	r.setInt("EXAM_PART1_QUOTA", &c.Exam.Part1Quota)
	r.setInt("EXAM_PART2_QUOTA", &c.Exam.Part2Quota)
	r.setInt("EXAM_PART3_QUOTA", &c.Exam.Part3Quota)
	r.setDuration("EXAM_ADVANCE_DELAY", &c.Exam.AdvanceDelay)
	r.setBool("EXAM_LIVE_TRANSCRIPTION", &c.Exam.LiveTranscription)
	r.setInt("EXAM_MAX_AUDIO_BYTES", &c.Exam.MaxAudioBytes)
	r.setInt("EXAM_RATE_LIMIT_PER_MINUTE", &c.Exam.RateLimitPerMinute)

	r.setString("LOG_LEVEL", &c.Log.Level)

	if len(r.errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(r.errs...))
	}
	return nil
}
