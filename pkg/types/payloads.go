package types

import "time"

// Inbound payloads.

// AudioChunk is the audio_chunk payload. Chunk is base64.
type AudioChunk struct {
	Chunk  string `json:"chunk"`
	IsLast bool   `json:"isLast"`
}

// TextMessage is the text_message payload.
type TextMessage struct {
	Message string `json:"message"`
}

// Outbound payloads.

// SessionStarted is sent once, right after connect.
type SessionStarted struct {
	SessionID   string `json:"sessionId"`
	Message     string `json:"message"`
	CurrentPart int    `json:"currentPart"`
}

// AIMessage carries an examiner utterance.
type AIMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Part      int       `json:"part,omitempty"`
}

// AIAudio carries synthesized speech for the preceding ai_message.
type AIAudio struct {
	AudioData string    `json:"audioData"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveTranscription reports transcribed candidate speech.
type LiveTranscription struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// QuickFeedback scores a single answer.
type QuickFeedback struct {
	Evaluation
	Timestamp time.Time `json:"timestamp"`
}

// Feedback answers get_feedback.
type Feedback struct {
	RealtimeFeedback
	Timestamp time.Time `json:"timestamp"`
}

// PartTransition announces a new part and its instruction.
type PartTransition struct {
	CurrentPart int       `json:"currentPart"`
	Instruction string    `json:"instruction"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionSummary totals a finished session. TotalDuration is in milliseconds.
type SessionSummary struct {
	TotalDuration  int64 `json:"totalDuration"`
	TotalExchanges int   `json:"totalExchanges"`
	PartsCompleted int   `json:"partsCompleted"`
}

// TestComplete carries the final evaluation.
type TestComplete struct {
	Evaluation     FinalEvaluation `json:"evaluation"`
	SessionSummary SessionSummary  `json:"sessionSummary"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Timestamped is the payload of acknowledgement events.
type Timestamped struct {
	Timestamp time.Time `json:"timestamp"`
}

// SessionStats answers get_session_stats.
type SessionStats struct {
	SessionID          string    `json:"sessionId"`
	CurrentPart        int       `json:"currentPart"`
	QuestionCount      int       `json:"questionCount"`
	ConversationLength int       `json:"conversationLength"`
	Duration           int64     `json:"duration"`
	Completed          bool      `json:"completed"`
	Timestamp          time.Time `json:"timestamp"`
}

// ErrorMessage is the error event payload.
type ErrorMessage struct {
	Message string `json:"message"`
}

// ExaminerMessageType is the fixed type tag on ai_message payloads.
const ExaminerMessageType = "examiner"
