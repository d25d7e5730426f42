package interfaces

import (
	"context"

	"examroom/pkg/types"
)

// AIService is the upstream scoring, transcription and speech collaborator.
// Implementations resolve every failure to a fallback value; none of these
// calls return an error.
type AIService interface {
	// Transcribe returns the text spoken in audio, or "" on failure.
	Transcribe(ctx context.Context, audio []byte) string

	// SynthesizeSpeech returns base64 audio for text, or nil when no audio is available.
	SynthesizeSpeech(ctx context.Context, text string) *string

	// GenerateExaminerTurn returns the next examiner utterance for the given part.
	GenerateExaminerTurn(ctx context.Context, history []types.Turn, part, questionCount int) string

	// QuickEvaluate scores a single answer against the question it responds to.
	QuickEvaluate(ctx context.Context, question, answer string) types.Evaluation

	// RealtimeFeedback summarizes recent performance.
	RealtimeFeedback(ctx context.Context, recent []types.Turn) types.RealtimeFeedback

	// Evaluate produces the final aggregate evaluation from question/answer pairs.
	Evaluate(ctx context.Context, pairs []types.Pair) types.FinalEvaluation
}
