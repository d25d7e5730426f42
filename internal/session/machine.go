package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"examroom/internal/observability/metrics"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

const (
	reasonScheduled = "scheduled"
	reasonRequested = "requested"

	defaultAdvanceRetryDelay = 250 * time.Millisecond
)

// Config holds the exam script constants.
type Config struct {
	// Quotas[i] is the number of counted examiner questions in part i+1.
	Quotas            [LastPart]int
	AdvanceDelay      time.Duration
	LiveTranscription bool
	MaxAudioBytes     int
	FeedbackWindow    int
}

// DefaultConfig returns the standard three-part script: quotas 4, 1 and 4.
func DefaultConfig() Config {
	return Config{
		Quotas:         [LastPart]int{4, 1, 4},
		AdvanceDelay:   3 * time.Second,
		MaxAudioBytes:  10 << 20,
		FeedbackWindow: 6,
	}
}

// Validate checks quotas, delays and buffer limits.
func (c Config) Validate() error {
	for i, q := range c.Quotas {
		if q <= 0 {
			return fmt.Errorf("part %d: %w", i+1, ErrInvalidQuota)
		}
	}
	if c.AdvanceDelay < 0 {
		return fmt.Errorf("advance delay cannot be negative")
	}
	if c.MaxAudioBytes <= 0 {
		return fmt.Errorf("max audio bytes must be greater than 0")
	}
	if c.FeedbackWindow <= 0 {
		return fmt.Errorf("feedback window must be greater than 0")
	}
	return nil
}

// Quota returns the question quota for part.
func (c Config) Quota(part int) int {
	if part < FirstPart || part > LastPart {
		return c.Quotas[0]
	}
	return c.Quotas[part-1]
}

// Machine drives sessions through the three parts. It holds no per-session
// state; every method must be called from the session's serial lane.
type Machine struct {
	ai         interfaces.AIService
	lanes      interfaces.Poster
	cfg        Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	pick       func(n int) int
	retryDelay time.Duration
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *logging.Logger) MachineOption {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records part advances and AI outcomes.
func WithMetrics(mt *metrics.Metrics) MachineOption {
	return func(m *Machine) { m.metrics = mt }
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPicker fixes greeting selection, mainly for tests.
func WithPicker(pick func(n int) int) MachineOption {
	return func(m *Machine) { m.pick = pick }
}

// WithAdvanceRetryDelay sets the backoff used when a scheduled advance finds
// the session's lane full.
func WithAdvanceRetryDelay(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.retryDelay = d
		}
	}
}

// NewMachine creates a Machine that posts scheduled work to lanes.
func NewMachine(ai interfaces.AIService, lanes interfaces.Poster, cfg Config, opts ...MachineOption) *Machine {
	m := &Machine{
		ai:     ai,
		lanes:  lanes,
		cfg:    cfg,
		logger:     logging.Default(),
		now:        time.Now,
		retryDelay: defaultAdvanceRetryDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) log(sess *Session) *logging.Logger {
	return m.logger.With("session_id", sess.ID, "connection_id", sess.ConnectionID)
}

func (m *Machine) emit(sess *Session, out interfaces.Emitter, event string, payload any) {
	if err := out.Emit(event, payload); err != nil {
		m.log(sess).Debug("emit failed", "event", event, "error", err)
	}
}

// Begin greets the candidate. The greeting is an examiner turn but is not
// counted toward the part 1 quota.
func (m *Machine) Begin(ctx context.Context, sess *Session, out interfaces.Emitter) {
	greeting := Greeting(m.pick)
	now := m.now()
	sess.Ledger.Record(types.SpeakerExaminer, greeting, now)
	sess.setCurrentQuestion(greeting)

	m.emit(sess, out, types.EventSessionStarted, types.SessionStarted{
		SessionID:   sess.ID,
		Message:     greeting,
		CurrentPart: sess.CurrentPart(),
	})
	m.emit(sess, out, types.EventAIMessage, types.AIMessage{
		Type:      types.ExaminerMessageType,
		Content:   greeting,
		Timestamp: now,
		Part:      sess.CurrentPart(),
	})
	m.speak(ctx, sess, out, greeting)
}

// StartRecording opens a new utterance and resets terminal-chunk dedup.
func (m *Machine) StartRecording(sess *Session, out interfaces.Emitter) {
	sess.beginUtterance()
	m.emit(sess, out, types.EventRecordingStarted, types.Timestamped{Timestamp: m.now()})
}

// StopRecording marks the candidate as no longer recording.
func (m *Machine) StopRecording(sess *Session, out interfaces.Emitter) {
	sess.setRecording(false)
	m.emit(sess, out, types.EventRecordingStopped, types.Timestamped{Timestamp: m.now()})
}

// HandleText treats a typed message as a completed candidate turn.
func (m *Machine) HandleText(ctx context.Context, sess *Session, out interfaces.Emitter, msg string) {
	text := strings.TrimSpace(msg)
	if text == "" {
		return
	}
	m.candidateTurn(ctx, sess, out, text)
}

// candidateTurn records an answer, scores it, and asks the next question
// unless the session is complete or a part transition is already pending.
func (m *Machine) candidateTurn(ctx context.Context, sess *Session, out interfaces.Emitter, text string) {
	if sess.Completed() {
		m.log(sess).Debug("turn ignored, session completed")
		return
	}

	question := sess.CurrentQuestion()
	sess.Ledger.Record(types.SpeakerCandidate, text, m.now())

	eval := m.ai.QuickEvaluate(ctx, question, text)
	m.emit(sess, out, types.EventQuickFeedback, types.QuickFeedback{Evaluation: eval, Timestamp: m.now()})

	if sess.AdvancePending() {
		return
	}

	part := sess.CurrentPart()
	next := m.ai.GenerateExaminerTurn(ctx, sess.Ledger.Snapshot(), part, sess.QuestionCount())
	if ctx.Err() != nil {
		return
	}
	m.ask(ctx, sess, out, next, part)

	if _, quotaMet := sess.countQuestion(m.cfg.Quota(part)); quotaMet {
		m.scheduleAdvance(sess, out)
	}
}

// ask appends an examiner turn and sends it with its synthesized audio.
func (m *Machine) ask(ctx context.Context, sess *Session, out interfaces.Emitter, question string, part int) {
	now := m.now()
	sess.Ledger.Record(types.SpeakerExaminer, question, now)
	sess.setCurrentQuestion(question)
	m.emit(sess, out, types.EventAIMessage, types.AIMessage{
		Type:      types.ExaminerMessageType,
		Content:   question,
		Timestamp: now,
		Part:      part,
	})
	m.speak(ctx, sess, out, question)
}

func (m *Machine) speak(ctx context.Context, sess *Session, out interfaces.Emitter, text string) {
	audio := m.ai.SynthesizeSpeech(ctx, text)
	if audio == nil {
		return
	}
	m.emit(sess, out, types.EventAIAudio, types.AIAudio{AudioData: *audio, Timestamp: m.now()})
}

func (m *Machine) scheduleAdvance(sess *Session, out interfaces.Emitter) {
	fromPart, ok := sess.markAdvancePending()
	if !ok {
		return
	}
	m.log(sess).Debug("part quota met, advance scheduled", "part", fromPart, "delay", m.cfg.AdvanceDelay)
	m.armAdvance(sess, out, fromPart, m.cfg.AdvanceDelay)
}

// armAdvance posts the advance into the session's lane after delay. A full
// lane is retried after retryDelay; any other refusal clears the pending flag.
func (m *Machine) armAdvance(sess *Session, out interfaces.Emitter, fromPart int, delay time.Duration) {
	sess.scheduler.Schedule(delay, func() {
		err := m.lanes.Submit(sess.ConnectionID, func(ctx context.Context) {
			m.advance(ctx, sess, out, reasonScheduled, fromPart)
		})
		switch {
		case err == nil:
		case errors.Is(err, interfaces.ErrLaneFull):
			if !sess.AdvancePending() || sess.CurrentPart() != fromPart {
				return
			}
			m.log(sess).Warn("lane full, retrying scheduled advance", "part", fromPart, "retry_in", m.retryDelay)
			m.armAdvance(sess, out, fromPart, m.retryDelay)
		default:
			sess.clearAdvancePending(fromPart)
			m.log(sess).Warn("scheduled advance dropped", "part", fromPart, "error", err)
		}
	})
}

// NextPart handles an explicit advance request. It preempts any pending
// scheduled advance.
func (m *Machine) NextPart(ctx context.Context, sess *Session, out interfaces.Emitter) {
	m.advance(ctx, sess, out, reasonRequested, 0)
}

func (m *Machine) advance(ctx context.Context, sess *Session, out interfaces.Emitter, reason string, fromPart int) {
	next, ok := sess.beginAdvance(fromPart)
	if !ok {
		m.log(sess).Debug("advance ignored", "reason", reason, "from_part", fromPart)
		return
	}
	sess.scheduler.Cancel()
	m.metrics.ObservePartAdvance(reason)

	if next > LastPart {
		m.complete(ctx, sess, out)
		return
	}

	sess.enterPart(next)
	instruction := Instruction(next)
	now := m.now()
	sess.Ledger.Record(types.SpeakerSystem, instruction, now)
	m.emit(sess, out, types.EventPartTransition, types.PartTransition{
		CurrentPart: next,
		Instruction: instruction,
		Timestamp:   now,
	})
	m.log(sess).Info("part started", "part", next, "reason", reason)

	// The opening question of a part is not counted toward its quota.
	question := m.ai.GenerateExaminerTurn(ctx, sess.Ledger.Snapshot(), next, 0)
	if ctx.Err() != nil {
		return
	}
	m.ask(ctx, sess, out, question, next)
}

func (m *Machine) complete(ctx context.Context, sess *Session, out interfaces.Emitter) {
	sess.markCompleted()

	eval := m.ai.Evaluate(ctx, sess.Ledger.Pairs())
	sess.setEvaluation(eval)

	now := m.now()
	m.emit(sess, out, types.EventTestComplete, types.TestComplete{
		Evaluation: eval,
		SessionSummary: types.SessionSummary{
			TotalDuration:  now.Sub(sess.ConnectedAt).Milliseconds(),
			TotalExchanges: sess.Ledger.CountBy(types.SpeakerCandidate),
			PartsCompleted: LastPart,
		},
		Timestamp: now,
	})
	m.log(sess).Info("test completed", "overall_band", eval.OverallBand)
}

// Feedback reports performance over the most recent turns. Valid after completion.
func (m *Machine) Feedback(ctx context.Context, sess *Session, out interfaces.Emitter) {
	fb := m.ai.RealtimeFeedback(ctx, sess.Ledger.Recent(m.cfg.FeedbackWindow))
	m.emit(sess, out, types.EventFeedback, types.Feedback{RealtimeFeedback: fb, Timestamp: m.now()})
}

// Stats sends a session_stats snapshot.
func (m *Machine) Stats(sess *Session, out interfaces.Emitter) {
	m.emit(sess, out, types.EventSessionStats, sess.Stats(m.now()))
}

// Pause and Resume are advisory; they do not affect part progression.
func (m *Machine) Pause(sess *Session, out interfaces.Emitter) {
	sess.setPaused(true)
	m.emit(sess, out, types.EventSessionPaused, types.Timestamped{Timestamp: m.now()})
}

// Resume clears the pause flag.
func (m *Machine) Resume(sess *Session, out interfaces.Emitter) {
	sess.setPaused(false)
	m.emit(sess, out, types.EventSessionResumed, types.Timestamped{Timestamp: m.now()})
}

// Ping answers with pong.
func (m *Machine) Ping(sess *Session, out interfaces.Emitter) {
	m.emit(sess, out, types.EventPong, types.Timestamped{Timestamp: m.now()})
}
