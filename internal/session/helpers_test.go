package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

type fakeAI struct {
	mu              sync.Mutex
	transcript      string
	audio           *string
	transcribeCalls int
	examinerCalls   int
	quickCalls      int
	evaluateCalls   int
	feedbackCalls   int
	lastPairs       []types.Pair
	lastRecent      []types.Turn
}

func (f *fakeAI) Transcribe(ctx context.Context, audio []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribeCalls++
	return f.transcript
}

func (f *fakeAI) SynthesizeSpeech(ctx context.Context, text string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio
}

func (f *fakeAI) GenerateExaminerTurn(ctx context.Context, history []types.Turn, part, questionCount int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.examinerCalls++
	return "question"
}

func (f *fakeAI) QuickEvaluate(ctx context.Context, question, answer string) types.Evaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quickCalls++
	return types.Evaluation{Feedback: "ok", Strengths: []string{}, Suggestions: []string{}}
}

func (f *fakeAI) RealtimeFeedback(ctx context.Context, recent []types.Turn) types.RealtimeFeedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	f.lastRecent = recent
	return types.RealtimeFeedback{Feedback: "steady", Suggestions: []string{}}
}

func (f *fakeAI) Evaluate(ctx context.Context, pairs []types.Pair) types.FinalEvaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluateCalls++
	f.lastPairs = pairs
	return types.FinalEvaluation{OverallBand: 7}
}

func (f *fakeAI) calls() (transcribe, examiner, evaluate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcribeCalls, f.examinerCalls, f.evaluateCalls
}

type emitted struct {
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event, payload})
	return nil
}

func (r *recorder) ID() string { return "conn-test" }

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// chanPoster captures jobs so tests decide when a scheduled advance runs.
type chanPoster struct {
	jobs   chan interfaces.Job
	closed bool
	mu     sync.Mutex
}

func newChanPoster() *chanPoster {
	return &chanPoster{jobs: make(chan interfaces.Job, 16)}
}

func (p *chanPoster) Submit(laneID string, job interfaces.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("lane closed")
	}
	p.jobs <- job
	return nil
}

func (p *chanPoster) runNext(t *testing.T) {
	t.Helper()
	select {
	case job := <-p.jobs:
		job(context.Background())
	case <-time.After(2 * time.Second):
		t.Fatal("no job was posted")
	}
}

func (p *chanPoster) assertIdle(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-p.jobs:
		t.Fatal("unexpected job posted")
	case <-time.After(wait):
	}
}

type harness struct {
	ai      *fakeAI
	poster  *chanPoster
	machine *Machine
	sess    *Session
	out     *recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWithPoster(t, nil, mutate)
}

// newHarnessWithPoster builds a harness whose machine posts to poster. A nil
// poster uses the harness chanPoster.
func newHarnessWithPoster(t *testing.T, poster interfaces.Poster, mutate func(*Config), opts ...MachineOption) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AdvanceDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	ai := &fakeAI{transcript: "my answer"}
	jobs := newChanPoster()
	if poster == nil {
		poster = jobs
	}
	opts = append([]MachineOption{
		WithLogger(logging.Discard()),
		WithPicker(func(int) int { return 0 }),
	}, opts...)
	sess := newSession("sess-1", "conn-1", time.Now())
	t.Cleanup(func() { sess.scheduler.Cancel() })
	return &harness{
		ai:      ai,
		poster:  jobs,
		machine: NewMachine(ai, poster, cfg, opts...),
		sess:    sess,
		out:     &recorder{},
	}
}

// refusingPoster fails the first remaining submits with err, or every submit
// when remaining is negative, then hands jobs to next.
type refusingPoster struct {
	mu        sync.Mutex
	err       error
	remaining int
	attempts  int
	next      interfaces.Poster
}

func (p *refusingPoster) Submit(laneID string, job interfaces.Job) error {
	p.mu.Lock()
	p.attempts++
	if p.remaining != 0 {
		if p.remaining > 0 {
			p.remaining--
		}
		p.mu.Unlock()
		return p.err
	}
	p.mu.Unlock()
	return p.next.Submit(laneID, job)
}

func (p *refusingPoster) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (h *harness) text(msg string) {
	h.machine.HandleText(context.Background(), h.sess, h.out, msg)
}
