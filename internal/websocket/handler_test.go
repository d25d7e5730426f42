package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examroom/internal/hub"
	"examroom/internal/router"
	"examroom/internal/session"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

type quietAI struct{}

func (quietAI) Transcribe(context.Context, []byte) string { return "my answer" }

func (quietAI) SynthesizeSpeech(context.Context, string) *string { return nil }

func (quietAI) GenerateExaminerTurn(context.Context, []types.Turn, int, int) string {
	return "Tell me more."
}

func (quietAI) QuickEvaluate(context.Context, string, string) types.Evaluation {
	return types.Evaluation{Feedback: "fine", Strengths: []string{}, Suggestions: []string{}}
}

func (quietAI) RealtimeFeedback(context.Context, []types.Turn) types.RealtimeFeedback {
	return types.RealtimeFeedback{Feedback: "steady", Suggestions: []string{}}
}

func (quietAI) Evaluate(context.Context, []types.Pair) types.FinalEvaluation {
	return types.FinalEvaluation{OverallBand: 7}
}

type countingStore struct {
	mu    sync.Mutex
	saved []*types.SessionRecord
}

func (s *countingStore) Save(_ context.Context, record *types.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, record)
	return nil
}

func (s *countingStore) Load(context.Context, string) (*types.SessionRecord, error) {
	return nil, session.ErrSessionNotFound
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type testServer struct {
	server      *httptest.Server
	sessions    *session.Registry
	connections *Registry
	lanes       *hub.Hub
	store       *countingStore
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := logging.Discard()

	lanes := hub.NewHub(0, logger)
	require.NoError(t, lanes.Start(context.Background()))

	store := &countingStore{}
	sessions := session.NewRegistry(store, session.WithRegistryLogger(logger))
	machine := session.NewMachine(quietAI{}, lanes, session.DefaultConfig(), session.WithLogger(logger))
	rt := router.NewRouter(machine, rateLimit, nil, logger)
	connections := NewRegistry()

	h := NewHandler(DefaultConfig(), connections, sessions, machine, rt, lanes, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = lanes.Stop()
	})

	return &testServer{server: srv, sessions: sessions, connections: connections, lanes: lanes, store: store}
}

func (s *testServer) dial(t *testing.T) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *gorillaws.Conn, event string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame received
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

func send(t *testing.T, conn *gorillaws.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(raw)))
}

func TestHandler_GreetsOnConnect(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t)
	defer conn.Close()

	frame := readUntil(t, conn, types.EventSessionStarted)

	var started types.SessionStarted
	require.NoError(t, json.Unmarshal(frame.Data, &started))
	assert.NotEmpty(t, started.SessionID)
	assert.NotEmpty(t, started.Message)
	assert.Equal(t, 1, started.CurrentPart)
	assert.Equal(t, 1, ts.sessions.Count())
}

func TestHandler_PingPong(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t)
	defer conn.Close()

	readUntil(t, conn, types.EventSessionStarted)
	send(t, conn, `{"event":"ping"}`)
	readUntil(t, conn, types.EventPong)
}

func TestHandler_TextMessageProducesExaminerReply(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t)
	defer conn.Close()

	readUntil(t, conn, types.EventSessionStarted)
	send(t, conn, `{"event":"text_message","data":{"message":"I am a student."}}`)

	readUntil(t, conn, types.EventQuickFeedback)
	frame := readUntil(t, conn, types.EventAIMessage)

	var msg types.AIMessage
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Equal(t, "Tell me more.", msg.Content)
}

func TestHandler_MalformedFrameReportsError(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t)
	defer conn.Close()

	readUntil(t, conn, types.EventSessionStarted)
	send(t, conn, `{not json`)
	frame := readUntil(t, conn, types.EventError)

	var msg types.ErrorMessage
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.NotEmpty(t, msg.Message)

	// The connection stays usable.
	send(t, conn, `{"event":"ping"}`)
	readUntil(t, conn, types.EventPong)
}

func TestHandler_RateLimitReportsError(t *testing.T) {
	ts := newTestServer(t, 1)
	conn := ts.dial(t)
	defer conn.Close()

	readUntil(t, conn, types.EventSessionStarted)
	send(t, conn, `{"event":"ping"}`)
	readUntil(t, conn, types.EventPong)
	send(t, conn, `{"event":"ping"}`)
	readUntil(t, conn, types.EventError)
}

func TestHandler_DisconnectArchivesAndRemovesSession(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t)

	readUntil(t, conn, types.EventSessionStarted)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return ts.sessions.Count() == 0 && ts.connections.Count() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ts.store.count())
	assert.Equal(t, 0, ts.lanes.Lanes())
}

func TestHandler_CloseAllWaitsForCleanup(t *testing.T) {
	ts := newTestServer(t, 0)
	a := ts.dial(t)
	defer a.Close()
	b := ts.dial(t)
	defer b.Close()

	readUntil(t, a, types.EventSessionStarted)
	readUntil(t, b, types.EventSessionStarted)
	require.Equal(t, 2, ts.connections.Count())

	assert.Equal(t, 2, ts.connections.CloseAll())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.True(t, ts.connections.Wait(ctx))
	assert.Equal(t, 0, ts.sessions.Count())
	assert.Equal(t, 2, ts.store.count())
}
