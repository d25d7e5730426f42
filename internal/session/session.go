package session

import (
	"sync"
	"time"

	"examroom/internal/ledger"
	"examroom/pkg/types"
)

const (
	FirstPart = 1
	LastPart  = 3
)

// Session is the per-connection assessment state. Mutations happen on the
// connection's serial lane; the mutex only makes concurrent reads (stats,
// HTTP listing, persistence) safe.
type Session struct {
	ID           string
	ConnectionID string
	ConnectedAt  time.Time
	Ledger       *ledger.Ledger

	scheduler *Scheduler

	mu              sync.Mutex
	currentPart     int
	questionCount   int
	recording       bool
	paused          bool
	completed       bool
	advancePending  bool
	currentQuestion string
	lastChunkSeen   bool
	audio           []byte
	evaluation      *types.FinalEvaluation
}

func newSession(id, connectionID string, connectedAt time.Time) *Session {
	return &Session{
		ID:           id,
		ConnectionID: connectionID,
		ConnectedAt:  connectedAt,
		Ledger:       ledger.New(),
		scheduler:    NewScheduler(),
		currentPart:  FirstPart,
	}
}

// CurrentPart returns the active part, 1 to 3.
func (s *Session) CurrentPart() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPart
}

// QuestionCount returns the counted examiner questions in the current part.
func (s *Session) QuestionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionCount
}

// IsRecording reports whether an utterance is open.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// IsPaused reports the advisory pause flag.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Completed reports whether the final evaluation was issued.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// CurrentQuestion returns the last examiner utterance.
func (s *Session) CurrentQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentQuestion
}

// AdvancePending reports whether a scheduled part transition is waiting.
func (s *Session) AdvancePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advancePending
}

// Stats returns the session_stats payload as of now.
func (s *Session) Stats(now time.Time) types.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionStats{
		SessionID:          s.ID,
		CurrentPart:        s.currentPart,
		QuestionCount:      s.questionCount,
		ConversationLength: s.Ledger.Len(),
		Duration:           now.Sub(s.ConnectedAt).Milliseconds(),
		Completed:          s.completed,
		Timestamp:          now,
	}
}

// Record snapshots the session for persistence.
func (s *Session) Record(endedAt time.Time) *types.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.SessionRecord{
		SessionID:     s.ID,
		ConnectionID:  s.ConnectionID,
		ConnectedAt:   s.ConnectedAt,
		EndedAt:       endedAt,
		CurrentPart:   s.currentPart,
		QuestionCount: s.questionCount,
		Completed:     s.completed,
		Turns:         s.Ledger.Snapshot(),
		Evaluation:    s.evaluation,
	}
}

// beginUtterance starts a fresh utterance: recording on, dedup flag and buffer cleared.
func (s *Session) beginUtterance() {
	s.mu.Lock()
	s.recording = true
	s.lastChunkSeen = false
	s.audio = s.audio[:0]
	s.mu.Unlock()
}

func (s *Session) setRecording(on bool) {
	s.mu.Lock()
	s.recording = on
	s.mu.Unlock()
}

func (s *Session) setPaused(on bool) {
	s.mu.Lock()
	s.paused = on
	s.mu.Unlock()
}

func (s *Session) setCurrentQuestion(q string) {
	s.mu.Lock()
	s.currentQuestion = q
	s.mu.Unlock()
}

// countQuestion increments questionCount and reports whether the part quota is now met.
func (s *Session) countQuestion(quota int) (part int, quotaMet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questionCount++
	return s.currentPart, s.questionCount >= quota
}

// markAdvancePending flips the pending flag and returns the part it applies to.
// It returns false if an advance was already pending or the session is complete.
func (s *Session) markAdvancePending() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advancePending || s.completed {
		return 0, false
	}
	s.advancePending = true
	return s.currentPart, true
}

// clearAdvancePending drops a pending advance armed in fromPart so the part
// continues with examiner questions.
func (s *Session) clearAdvancePending(fromPart int) {
	s.mu.Lock()
	if s.currentPart == fromPart {
		s.advancePending = false
	}
	s.mu.Unlock()
}

// beginAdvance validates an advance request and returns the part to move to.
// fromPart == 0 means an explicit request valid from any part. A scheduled
// request only applies if it is still pending for the part it was armed in.
func (s *Session) beginAdvance(fromPart int) (next int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return 0, false
	}
	if fromPart != 0 && (!s.advancePending || s.currentPart != fromPart) {
		return 0, false
	}
	s.advancePending = false
	return s.currentPart + 1, true
}

func (s *Session) enterPart(part int) {
	s.mu.Lock()
	s.currentPart = part
	s.questionCount = 0
	s.mu.Unlock()
}

func (s *Session) markCompleted() {
	s.mu.Lock()
	s.completed = true
	s.recording = false
	s.audio = nil
	s.mu.Unlock()
}

func (s *Session) setEvaluation(eval types.FinalEvaluation) {
	s.mu.Lock()
	s.evaluation = &eval
	s.mu.Unlock()
}
