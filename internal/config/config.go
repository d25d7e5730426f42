// Package config loads examroom settings from defaults, EXAMROOM_* environment
// variables and an optional YAML file, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"examroom/internal/aiclient"
	"examroom/internal/session"
	"examroom/internal/websocket"
	dbconfig "examroom/pkg/database"
)

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig       `yaml:"http"`
	WebSocket websocket.Config `yaml:"websocket"`
	Database  dbconfig.Config  `yaml:"database"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Redis     RedisConfig      `yaml:"redis"`
	AI        AIConfig         `yaml:"ai"`
	Exam      ExamConfig       `yaml:"exam"`
	Log       LogConfig        `yaml:"log"`
}

// HTTPConfig configures the listener and server timeouts.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

// Addr returns host:port for net/http.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ArchiveConfig selects the sinks a finished session is written to.
type ArchiveConfig struct {
	SQLite         bool          `yaml:"sqlite"`
	Remote         bool          `yaml:"remote"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// RedisConfig configures the Redis transcript cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AIConfig points at the upstream scoring service.
type AIConfig struct {
	BaseURL  string            `yaml:"base_url"`
	Timeouts aiclient.Timeouts `yaml:"timeouts"`
}

// ExamConfig holds the assessment script constants.
type ExamConfig struct {
	Part1Quota         int           `yaml:"part1_quota"`
	Part2Quota         int           `yaml:"part2_quota"`
	Part3Quota         int           `yaml:"part3_quota"`
	AdvanceDelay       time.Duration `yaml:"advance_delay"`
	LiveTranscription  bool          `yaml:"live_transcription"`
	MaxAudioBytes      int           `yaml:"max_audio_bytes"`
	FeedbackWindow     int           `yaml:"feedback_window"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	LaneBuffer         int           `yaml:"lane_buffer"`
}

// Machine converts the exam section into state machine settings.
func (e ExamConfig) Machine() session.Config {
	return session.Config{
		Quotas:            [session.LastPart]int{e.Part1Quota, e.Part2Quota, e.Part3Quota},
		AdvanceDelay:      e.AdvanceDelay,
		LiveTranscription: e.LiveTranscription,
		MaxAudioBytes:     e.MaxAudioBytes,
		FeedbackWindow:    e.FeedbackWindow,
	}
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration that runs locally with sqlite only.
func DefaultConfig() *Config {
	machine := session.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Metrics:         true,
		},
		WebSocket: websocket.DefaultConfig(),
		Database:  *dbconfig.DefaultConfig(),
		Archive: ArchiveConfig{
			SQLite:         true,
			Remote:         false,
			PersistTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		AI: AIConfig{
			BaseURL:  "http://localhost:8000",
			Timeouts: aiclient.DefaultTimeouts(),
		},
		Exam: ExamConfig{
			Part1Quota:         machine.Quotas[0],
			Part2Quota:         machine.Quotas[1],
			Part3Quota:         machine.Quotas[2],
			AdvanceDelay:       machine.AdvanceDelay,
			LiveTranscription:  machine.LiveTranscription,
			MaxAudioBytes:      machine.MaxAudioBytes,
			FeedbackWindow:     machine.FeedbackWindow,
			RateLimitPerMinute: 600,
			LaneBuffer:         64,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTP.Host == "" {
		add("http.host cannot be empty")
	}
	// Port 0 binds any free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		add("http.port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		add("http timeouts must be positive")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.PongWait <= 0 || ws.WriteTimeout <= 0 || ws.HandshakeTimeout <= 0 {
		add("websocket timings must be positive")
	}
	if ws.PingInterval >= ws.PongWait {
		add("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	if ws.ReadLimit <= 0 {
		add("websocket.read_limit must be positive")
	}

	if c.Archive.SQLite {
		if err := c.Database.Validate(); err != nil {
			add("database: %w", err)
		}
	}
	if c.Archive.PersistTimeout <= 0 {
		add("archive.persist_timeout must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}

	if u, err := url.Parse(c.AI.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("ai.base_url must be an absolute URL")
	}

	if err := c.Exam.Machine().Validate(); err != nil {
		add("exam: %w", err)
	}
	if c.Exam.RateLimitPerMinute < 0 {
		add("exam.rate_limit_per_minute cannot be negative")
	}
	if c.Exam.LaneBuffer <= 0 {
		add("exam.lane_buffer must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadFromEnv applies EXAMROOM_* variables over the defaults. Unparsable
// values are reported.
func LoadFromEnv() (*Config, error) {
	c := DefaultConfig()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile reads a YAML file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	c := DefaultConfig()
	if err := c.mergeFile(path); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return c, nil
}

// LoadConfigWithPrecedence layers file over environment over defaults. An
// empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	c, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
