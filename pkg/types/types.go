package types

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	EventStartRecording  = "start_recording"
	EventStopRecording   = "stop_recording"
	EventAudioChunk      = "audio_chunk"
	EventTextMessage     = "text_message"
	EventNextPart        = "next_part"
	EventGetFeedback     = "get_feedback"
	EventPauseSession    = "pause_session"
	EventResumeSession   = "resume_session"
	EventPing            = "ping"
	EventGetSessionStats = "get_session_stats"
)

// Outbound event names (server -> client).
const (
	EventSessionStarted    = "session_started"
	EventAIMessage         = "ai_message"
	EventAIAudio           = "ai_audio"
	EventLiveTranscription = "live_transcription"
	EventQuickFeedback     = "quick_feedback"
	EventFeedback          = "feedback"
	EventPartTransition    = "part_transition"
	EventTestComplete      = "test_complete"
	EventRecordingStarted  = "recording_started"
	EventRecordingStopped  = "recording_stopped"
	EventSessionPaused     = "session_paused"
	EventSessionResumed    = "session_resumed"
	EventPong              = "pong"
	EventSessionStats      = "session_stats"
	EventError             = "error"
)

// Frame is the event-tagged envelope used in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the server-side envelope; Data is marshalled as-is.
type OutboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerCandidate Speaker = "candidate"
	SpeakerExaminer  Speaker = "examiner"
	SpeakerSystem    Speaker = "system"
)

// Turn is one utterance in the conversation. Turns are never edited after
// they are appended to a ledger.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AudioData string    `json:"audioData,omitempty"`
}

// Pair is an examiner turn immediately followed by a candidate turn.
type Pair struct {
	Question Turn `json:"question"`
	Answer   Turn `json:"answer"`
}

// Evaluation is the normalized feedback shape shared by quick and final evaluations.
type Evaluation struct {
	Feedback    string   `json:"feedback"`
	Score       *float64 `json:"score"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
}

// FinalEvaluation aggregates the whole conversation once the test completes.
type FinalEvaluation struct {
	Evaluation
	OverallBand     float64  `json:"overallBand"`
	Fluency         float64  `json:"fluency"`
	Vocabulary      float64  `json:"vocabulary"`
	Grammar         float64  `json:"grammar"`
	Pronunciation   float64  `json:"pronunciation"`
	Weaknesses      []string `json:"weaknesses"`
	ImprovedAnswers []string `json:"improvedAnswers"`
}

// RealtimeFeedback is the answer to get_feedback.
type RealtimeFeedback struct {
	Feedback      string   `json:"feedback"`
	Fluency       float64  `json:"fluency"`
	Vocabulary    float64  `json:"vocabulary"`
	Grammar       float64  `json:"grammar"`
	Pronunciation float64  `json:"pronunciation"`
	Suggestions   []string `json:"suggestions"`
}

// NormalizedAIResponse is the canonical shape produced from any upstream payload.
type NormalizedAIResponse struct {
	Transcript string     `json:"transcript"`
	Evaluation Evaluation `json:"evaluation"`
	AIResponse string     `json:"aiResponse"`
	AIAudio    *string    `json:"aiAudio"`
}

// SessionRecord is what gets handed to persistence when a connection ends.
type SessionRecord struct {
	SessionID     string           `json:"sessionId"`
	ConnectionID  string           `json:"connectionId"`
	ConnectedAt   time.Time        `json:"connectedAt"`
	EndedAt       time.Time        `json:"endedAt"`
	CurrentPart   int              `json:"currentPart"`
	QuestionCount int              `json:"questionCount"`
	Completed     bool             `json:"completed"`
	Turns         []Turn           `json:"turns"`
	Evaluation    *FinalEvaluation `json:"evaluation,omitempty"`
}

// Duration returns how long the session lasted.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.ConnectedAt)
}
