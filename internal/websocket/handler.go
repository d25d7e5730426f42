package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"examroom/internal/hub"
	"examroom/internal/router"
	"examroom/internal/session"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

// Config holds transport timings and limits.
type Config struct {
	ReadLimit        int64         `yaml:"read_limit"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongWait         time.Duration `yaml:"pong_wait"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	DisconnectGrace  time.Duration `yaml:"disconnect_grace"`
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		ReadLimit:        16 << 20,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		DisconnectGrace:  15 * time.Second,
	}
}

// Handler upgrades HTTP requests and runs one assessment session per socket.
type Handler struct {
	upgrader    websocket.Upgrader
	cfg         Config
	connections *Registry
	sessions    *session.Registry
	machine     *session.Machine
	router      *router.Router
	lanes       *hub.Hub
	logger      *logging.Logger
}

// NewHandler wires the transport to the session layer.
func NewHandler(cfg Config, connections *Registry, sessions *session.Registry, machine *session.Machine, r *router.Router, lanes *hub.Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			// Sessions are anonymous; any origin may connect.
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		cfg:         cfg,
		connections: connections,
		sessions:    sessions,
		machine:     machine,
		router:      r,
		lanes:       lanes,
		logger:      logger.With("component", "websocket"),
	}
}

// ServeHTTP upgrades the request, creates the session and greets the candidate.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	conn := NewConnection(connID, ws, h.cfg.WriteTimeout)
	log := h.logger.With("connection_id", connID)

	unregister, err := h.connections.Register(conn)
	if err != nil {
		log.Error("failed to track connection", "error", err)
		_ = conn.Close()
		return
	}

	sess, err := h.sessions.OnConnect(connID)
	if err != nil {
		log.Error("failed to create session", "error", err)
		unregister()
		_ = conn.Close()
		return
	}
	log = log.With("session_id", sess.ID)

	if err := h.lanes.Open(connID); err != nil {
		log.Error("failed to open lane", "error", err)
		_ = h.sessions.OnDisconnect(r.Context(), connID)
		unregister()
		_ = conn.Close()
		return
	}
	if err := h.lanes.Submit(connID, func(ctx context.Context) {
		h.machine.Begin(ctx, sess, conn)
	}); err != nil {
		log.Warn("failed to queue greeting", "error", err)
	}

	log.Info("client connected", "remote_addr", r.RemoteAddr)
	go h.handleConnection(conn, unregister, log)
}

// handleConnection runs the read pump and heartbeat, then tears the session
// down: lane first so no job touches the session during persistence.
func (h *Handler) handleConnection(conn *Connection, unregister func(), log *logging.Logger) {
	connID := conn.ID()
	defer func() {
		if err := h.lanes.Close(connID); err != nil && !errors.Is(err, hub.ErrLaneNotFound) {
			log.Warn("failed to close lane", "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DisconnectGrace)
		if err := h.sessions.OnDisconnect(ctx, connID); err != nil {
			log.Warn("session teardown reported error", "error", err)
		}
		cancel()
		h.router.Forget(connID)
		_ = conn.Close()
		unregister()
		log.Info("client disconnected")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.ReadLimit)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		log.Warn("failed to set read deadline", "error", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any client frame proves liveness.
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data, log)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// dispatch decodes one frame and queues it on the connection's lane.
func (h *Handler) dispatch(conn *Connection, data []byte, log *logging.Logger) {
	connID := conn.ID()

	in, err := types.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, types.ErrEmptyFrame) {
			return
		}
		log.Debug("rejected frame", "error", err)
		_ = conn.EmitError(err.Error())
		return
	}

	if err := h.router.Admit(connID, in.Event); err != nil {
		_ = conn.EmitError(err.Error())
		return
	}

	sess, err := h.sessions.Get(connID)
	if err != nil {
		_ = conn.EmitError(err.Error())
		return
	}

	err = h.lanes.Submit(connID, func(ctx context.Context) {
		if err := h.router.Route(ctx, sess, conn, in); err != nil {
			log.Debug("route failed", "event", in.Event, "error", err)
			_ = conn.EmitError(err.Error())
		}
	})
	if err != nil {
		log.Warn("event dropped", "event", in.Event, "error", err)
		_ = conn.EmitError("server busy, event dropped")
	}
}
