// Package api serves the read-only HTTP surface next to the websocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"examroom/internal/database"
	"examroom/internal/ledger"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	healthTimeout    = 2 * time.Second
)

// LiveSessions reports sessions attached to open connections.
type LiveSessions interface {
	List() []types.SessionStats
	Count() int
}

// ConnectionCounter reports open websocket connections.
type ConnectionCounter interface {
	Count() int
}

// HealthChecker is satisfied by the sqlite archive.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RecentLister lists archived sessions, newest first.
type RecentLister interface {
	ListRecent(ctx context.Context, limit int) ([]database.Summary, error)
}

// Config holds the server's collaborators. Archive, Recent, Health, Metrics
// and WebSocket are optional.
type Config struct {
	Logger      *logging.Logger
	Sessions    LiveSessions
	Connections ConnectionCounter
	Archive     interfaces.SessionStore
	Recent      RecentLister
	Health      HealthChecker
	Metrics     http.Handler
	WebSocket   http.Handler
	StartedAt   time.Time
}

// Server serves the HTTP surface.
type Server struct {
	cfg    Config
	logger *logging.Logger
	router chi.Router
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	Sessions    int       `json:"sessions"`
	Uptime      string    `json:"uptime"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TranscriptResponse is an archived record with its question/answer pairs.
type TranscriptResponse struct {
	*types.SessionRecord
	Pairs []types.Pair `json:"pairs"`
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The upgrade needs the raw writer, so /ws sits outside the logging group.
	if s.cfg.WebSocket != nil {
		r.Handle("/ws", s.cfg.WebSocket)
	}

	r.Group(func(public chi.Router) {
		public.Use(s.requestLogger)
		public.Use(cors)

		public.Get("/health", s.healthCheck)
		if s.cfg.Metrics != nil {
			public.Handle("/metrics", s.cfg.Metrics)
		}
		public.Route("/api/sessions", func(api chi.Router) {
			api.Get("/", s.listSessions)
			api.Get("/archived", s.listArchived)
			api.Get("/{sessionID}/transcript", s.getTranscript)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.cfg.Sessions.List()
	if sessions == nil {
		sessions = []types.SessionStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) listArchived(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Recent == nil {
		s.sendError(w, ErrArchiveDisabled.Error(), http.StatusServiceUnavailable)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	summaries, err := s.cfg.Recent.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list archived sessions", "error", err)
		s.sendError(w, "failed to list archived sessions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Archive == nil {
		s.sendError(w, ErrArchiveDisabled.Error(), http.StatusServiceUnavailable)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		s.sendError(w, ErrMissingSession.Error(), http.StatusBadRequest)
		return
	}

	record, err := s.cfg.Archive.Load(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "session not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load transcript", "session_id", sessionID, "error", err)
		s.sendError(w, "failed to load transcript", http.StatusInternalServerError)
		return
	}
	if record.Turns == nil {
		record.Turns = []types.Turn{}
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		SessionRecord: record,
		Pairs:         ledger.PairTurns(record.Turns),
	})
}

// healthCheck returns 503 when the archive database is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "disabled"
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		dbStatus = "healthy"
		if err := s.cfg.Health.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = "error: " + err.Error()
		}
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Sessions:  s.cfg.Sessions.Count(),
		Uptime:    time.Since(s.cfg.StartedAt).Round(time.Second).String(),
	}
	if s.cfg.Connections != nil {
		resp.Connections = s.cfg.Connections.Count()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
