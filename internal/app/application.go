// Package app wires the assessment service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"examroom/internal/aiclient"
	"examroom/internal/api"
	"examroom/internal/archive"
	"examroom/internal/config"
	"examroom/internal/database"
	"examroom/internal/hub"
	"examroom/internal/observability/metrics"
	"examroom/internal/router"
	"examroom/internal/session"
	"examroom/internal/websocket"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
)

// DefaultMaintenanceInterval is how often RunMaintenance sweeps.
const DefaultMaintenanceInterval = time.Minute

// Application holds every long-lived component.
type Application struct {
	config      *config.Config
	logger      *logging.Logger
	dbManager   *database.Manager
	redisClient *redis.Client
	store       interfaces.SessionStore
	lanes       *hub.Hub
	router      *router.Router
	sessions    *session.Registry
	connections *websocket.Registry
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	started  bool
}

// NewApplication builds the component graph in dependency order:
// metrics, AI client, archive sinks, lanes, state machine, registries,
// transport, HTTP.
func NewApplication(cfg *config.Config, logger *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.New(cfg.Log.Level)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ai, err := aiclient.New(aiclient.Config{
		BaseURL:  cfg.AI.BaseURL,
		Timeouts: cfg.AI.Timeouts,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	a := &Application{
		config:   cfg,
		logger:   logger.With("component", "app"),
		serveErr: make(chan error, 1),
	}

	store, err := a.buildArchive(ai)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.store = store

	a.lanes = hub.NewHub(cfg.Exam.LaneBuffer, logger)
	machine := session.NewMachine(ai, a.lanes, cfg.Exam.Machine(),
		session.WithLogger(logger),
		session.WithMetrics(m),
	)
	a.sessions = session.NewRegistry(store,
		session.WithRegistryLogger(logger),
		session.WithRegistryMetrics(m),
		session.WithPersistTimeout(cfg.Archive.PersistTimeout),
	)
	a.router = router.NewRouter(machine, cfg.Exam.RateLimitPerMinute, m, logger)
	a.connections = websocket.NewRegistry()
	wsHandler := websocket.NewHandler(cfg.WebSocket, a.connections, a.sessions, machine, a.router, a.lanes, logger)

	apiCfg := api.Config{
		Logger:      logger,
		Sessions:    a.sessions,
		Connections: a.connections,
		Archive:     store,
		WebSocket:   wsHandler,
	}
	if a.dbManager != nil {
		apiCfg.Recent = a.dbManager
		apiCfg.Health = a.dbManager
	}
	if cfg.HTTP.Metrics {
		apiCfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	a.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.NewServer(apiCfg),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

// buildArchive opens the configured sinks. With none enabled sessions are
// discarded on disconnect.
func (a *Application) buildArchive(ai *aiclient.Client) (interfaces.SessionStore, error) {
	var sinks []archive.Named

	if a.config.Archive.SQLite {
		dbCfg := a.config.Database
		mgr, err := database.NewManager(&dbCfg, database.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session archive: %w", err)
		}
		a.dbManager = mgr
		sinks = append(sinks, archive.Named{Name: "sqlite", Store: mgr})
	}

	if a.config.Redis.Enabled {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		rs, err := archive.NewRedisStore(a.redisClient, a.config.Redis.TTL, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archive.Named{Name: "redis", Store: rs})
	}

	if a.config.Archive.Remote {
		remote, err := archive.NewRemote(ai)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archive.Named{Name: "remote", Store: remote})
	}

	if len(sinks) == 0 {
		a.logger.Warn("no archive sinks enabled, finished sessions are discarded")
		return nil, nil
	}
	return archive.NewMulti(a.logger, sinks...)
}

// Start begins serving. It returns once the listener is bound.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}

	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable at %s: %w", a.config.Redis.Addr, err)
		}
	}

	if err := a.lanes.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.lanes.Stop()
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.listener = ln
	a.started = true

	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- fmt.Errorf("http server: %w", err)
		}
		close(a.serveErr)
	}()

	a.logger.Info("examroom started", "addr", ln.Addr().String())
	return nil
}

// Run starts the application and blocks until ctx is done or the server
// fails, then shuts down within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-a.serveErr:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.HTTP.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Stop(shutdownCtx))
}

// RunMaintenance sweeps idle rate-limit windows every interval until ctx is
// done.
func (a *Application) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.router.Sweep()
			a.logger.Debug("maintenance sweep", "live_sessions", a.sessions.Count(), "lanes", a.lanes.Lanes())
		}
	}
}

// Stop shuts down in reverse dependency order: HTTP, live connections
// (each archives its session), lanes, stores.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}
	a.started = false

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	closed := a.connections.CloseAll()
	if !a.connections.Wait(ctx) {
		errs = append(errs, fmt.Errorf("timed out waiting for %d connections to finish", a.connections.Count()))
	}

	if err := a.lanes.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("examroom stopped", "connections_closed", closed)
	return errors.Join(errs...)
}

func (a *Application) closeStores() error {
	var errs []error
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.dbManager != nil {
		if err := a.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// Sessions exposes the live session registry.
func (a *Application) Sessions() *session.Registry {
	return a.sessions
}
