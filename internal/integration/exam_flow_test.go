package integration

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examroom/internal/app"
	"examroom/internal/config"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

type upstream struct {
	server     *httptest.Server
	transcribe atomic.Int32
	examiner   atomic.Int32
	evaluate   atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		u.transcribe.Add(1)
		reply(w, `{"transcript":"I live in Porto with my family."}`)
	})
	mux.HandleFunc("/generate-examiner-response", func(w http.ResponseWriter, r *http.Request) {
		u.examiner.Add(1)
		reply(w, `{"ai_response":"Why do you like it there?"}`)
	})
	mux.HandleFunc("/quick-evaluate", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"evaluation":{"feedback":"Relevant answer.","score":6}}`)
	})
	mux.HandleFunc("/realtime-feedback", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"feedback":"Keep extending your answers.","fluency":6.5}`)
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		u.evaluate.Add(1)
		reply(w, `{"evaluation":{"overall_band":7.5,"detailed_feedback":"Confident speaker.","strengths":["range"]}}`)
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func startApp(t *testing.T, up *upstream, mutate func(*config.Config)) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "examroom.db")
	cfg.AI.BaseURL = up.server.URL
	cfg.Exam.Part1Quota = 1
	cfg.Exam.Part2Quota = 1
	cfg.Exam.Part3Quota = 1
	cfg.Exam.AdvanceDelay = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.NewApplication(cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func answer(t *testing.T, c *candidateClient, text string) {
	t.Helper()
	require.NoError(t, c.send(types.EventTextMessage, map[string]string{"message": text}))
}

func TestExam_ThreePartsToCompletion(t *testing.T) {
	up := newUpstream(t)
	a := startApp(t, up, nil)
	c := dialCandidate(t, context.Background(), a.Addr())

	var started types.SessionStarted
	c.expect(t, types.EventSessionStarted, &started)
	assert.Equal(t, 1, started.CurrentPart)
	c.expect(t, types.EventAIMessage, nil)

	for part := 2; part <= 3; part++ {
		answer(t, c, "Here is my answer.")
		c.expect(t, types.EventQuickFeedback, nil)
		c.expect(t, types.EventAIMessage, nil)

		var transition types.PartTransition
		c.expect(t, types.EventPartTransition, &transition)
		assert.Equal(t, part, transition.CurrentPart)
		assert.NotEmpty(t, transition.Instruction)

		var first types.AIMessage
		c.expect(t, types.EventAIMessage, &first)
		assert.Equal(t, part, first.Part)
	}

	answer(t, c, "My final answer.")
	c.expect(t, types.EventQuickFeedback, nil)
	c.expect(t, types.EventAIMessage, nil)

	var done types.TestComplete
	c.expect(t, types.EventTestComplete, &done)
	assert.Equal(t, 7.5, done.Evaluation.OverallBand)
	assert.Equal(t, 3, done.SessionSummary.PartsCompleted)
	assert.Equal(t, 3, done.SessionSummary.TotalExchanges)
	assert.Equal(t, int32(1), up.evaluate.Load())

	// After completion answers are ignored but feedback and stats still work.
	examinerCalls := up.examiner.Load()
	answer(t, c, "One more thing.")
	require.NoError(t, c.send(types.EventGetSessionStats, nil))
	var stats types.SessionStats
	c.expect(t, types.EventSessionStats, &stats)
	assert.True(t, stats.Completed)
	assert.Equal(t, 3, stats.CurrentPart)
	assert.Equal(t, examinerCalls, up.examiner.Load())

	require.NoError(t, c.send(types.EventGetFeedback, nil))
	var fb types.Feedback
	c.expect(t, types.EventFeedback, &fb)
	assert.Equal(t, "Keep extending your answers.", fb.Feedback)
}

func TestExam_AudioUtterance(t *testing.T) {
	up := newUpstream(t)
	a := startApp(t, up, func(cfg *config.Config) { cfg.Exam.Part1Quota = 4 })
	c := dialCandidate(t, context.Background(), a.Addr())

	c.expect(t, types.EventSessionStarted, nil)
	c.expect(t, types.EventAIMessage, nil)

	chunk := base64.StdEncoding.EncodeToString([]byte("RIFF....WAVEfmt "))
	require.NoError(t, c.send(types.EventStartRecording, nil))
	c.expect(t, types.EventRecordingStarted, nil)
	require.NoError(t, c.send(types.EventAudioChunk, map[string]any{"chunk": chunk, "isLast": false}))
	require.NoError(t, c.send(types.EventAudioChunk, map[string]any{"chunk": "", "isLast": false}))
	require.NoError(t, c.send(types.EventAudioChunk, map[string]any{"chunk": chunk, "isLast": true}))

	var live types.LiveTranscription
	c.expect(t, types.EventLiveTranscription, &live)
	assert.Equal(t, "I live in Porto with my family.", live.Text)
	c.expect(t, types.EventQuickFeedback, nil)
	var question types.AIMessage
	c.expect(t, types.EventAIMessage, &question)
	assert.Equal(t, "Why do you like it there?", question.Content)

	// A repeated terminal chunk is dropped; the pong arrives with nothing before it.
	require.NoError(t, c.send(types.EventAudioChunk, map[string]any{"chunk": chunk, "isLast": true}))
	require.NoError(t, c.send(types.EventPing, nil))
	assert.Equal(t, types.EventPong, c.next(t))
	assert.Equal(t, int32(1), up.transcribe.Load())

	// A new recording accepts a terminal chunk again.
	require.NoError(t, c.send(types.EventStartRecording, nil))
	c.expect(t, types.EventRecordingStarted, nil)
	require.NoError(t, c.send(types.EventAudioChunk, map[string]any{"chunk": chunk, "isLast": true}))
	c.expect(t, types.EventLiveTranscription, nil)
	assert.Equal(t, int32(2), up.transcribe.Load())
}

func TestExam_NextPartSkipsAhead(t *testing.T) {
	up := newUpstream(t)
	a := startApp(t, up, func(cfg *config.Config) {
		cfg.Exam.Part1Quota = 4
		cfg.Exam.Part2Quota = 1
		cfg.Exam.Part3Quota = 4
	})
	c := dialCandidate(t, context.Background(), a.Addr())
	c.expect(t, types.EventSessionStarted, nil)

	for _, want := range []int{2, 3} {
		require.NoError(t, c.send(types.EventNextPart, nil))
		var transition types.PartTransition
		c.expect(t, types.EventPartTransition, &transition)
		assert.Equal(t, want, transition.CurrentPart)
	}

	require.NoError(t, c.send(types.EventNextPart, nil))
	c.expect(t, types.EventTestComplete, nil)
}

func TestExam_ConcurrentCandidatesAreIsolated(t *testing.T) {
	up := newUpstream(t)
	a := startApp(t, up, func(cfg *config.Config) { cfg.Exam.Part1Quota = 4 })

	const n = 5
	clients := make([]*candidateClient, n)
	ids := make(map[string]bool)
	for i := range clients {
		clients[i] = dialCandidate(t, context.Background(), a.Addr())
		var started types.SessionStarted
		clients[i].expect(t, types.EventSessionStarted, &started)
		ids[started.SessionID] = true
	}
	assert.Len(t, ids, n)
	assert.Equal(t, n, a.Sessions().Count())

	answer(t, clients[0], "Only the first candidate speaks.")
	clients[0].expect(t, types.EventQuickFeedback, nil)

	for i, c := range clients {
		require.NoError(t, c.send(types.EventGetSessionStats, nil))
		var stats types.SessionStats
		c.expect(t, types.EventSessionStats, &stats)
		want := 0
		if i == 0 {
			want = 1
		}
		assert.Equal(t, want, stats.QuestionCount, "client %d", i)
	}

	for _, c := range clients {
		require.NoError(t, c.Close())
	}
	require.Eventually(t, func() bool { return a.Sessions().Count() == 0 }, 5*time.Second, 20*time.Millisecond)
}
