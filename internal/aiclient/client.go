// Package aiclient talks to the upstream scoring service: transcription,
// speech synthesis, examiner turns and evaluations. Every call carries its own
// timeout and resolves failures to a typed fallback instead of an error.
package aiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"examroom/internal/observability/metrics"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

const (
	defaultBaseURL  = "http://localhost:8000"
	maxResponseSize = 32 << 20

	opTranscribe    = "transcribe"
	opSpeech        = "synthesize_speech"
	opExaminer      = "generate_examiner_turn"
	opQuickEvaluate = "quick_evaluate"
	opFeedback      = "realtime_feedback"
	opEvaluate      = "evaluate"
	opSaveSession   = "save_session"
)

var tracer = otel.Tracer("examroom.internal.aiclient")

// Timeouts bounds each upstream operation.
type Timeouts struct {
	Transcribe    time.Duration `yaml:"transcribe"`
	Speech        time.Duration `yaml:"speech"`
	Examiner      time.Duration `yaml:"examiner"`
	QuickEvaluate time.Duration `yaml:"quick_evaluate"`
	Feedback      time.Duration `yaml:"feedback"`
	Evaluate      time.Duration `yaml:"evaluate"`
	SaveSession   time.Duration `yaml:"save_session"`
}

// DefaultTimeouts returns the per-operation budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe:    10 * time.Second,
		Speech:        15 * time.Second,
		Examiner:      20 * time.Second,
		QuickEvaluate: 15 * time.Second,
		Feedback:      15 * time.Second,
		Evaluate:      30 * time.Second,
		SaveSession:   10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	return Timeouts{
		Transcribe:    pick(t.Transcribe, d.Transcribe),
		Speech:        pick(t.Speech, d.Speech),
		Examiner:      pick(t.Examiner, d.Examiner),
		QuickEvaluate: pick(t.QuickEvaluate, d.QuickEvaluate),
		Feedback:      pick(t.Feedback, d.Feedback),
		Evaluate:      pick(t.Evaluate, d.Evaluate),
		SaveSession:   pick(t.SaveSession, d.SaveSession),
	}
}

// Config controls how the client behaves.
type Config struct {
	BaseURL    string
	Timeouts   Timeouts
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	// Pick selects an index in [0,n) for fallback questions. Defaults to math/rand.
	Pick func(n int) int
}

// Client implements interfaces.AIService over HTTP.
type Client struct {
	baseURL    string
	timeouts   Timeouts
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.Metrics
	pick       func(n int) int
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		timeouts:   cfg.Timeouts.withDefaults(),
		httpClient: httpClient,
		logger:     logger.With("component", "aiclient"),
		metrics:    cfg.Metrics,
		pick:       cfg.Pick,
	}, nil
}

type historyEntry struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

func toHistory(turns []types.Turn, withTime bool) []historyEntry {
	out := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		e := historyEntry{Type: string(t.Speaker), Content: t.Content}
		if withTime {
			e.Timestamp = t.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, e)
	}
	return out
}

// Transcribe uploads one utterance and returns its text, or "" on failure.
func (c *Client) Transcribe(ctx context.Context, audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	start := time.Now()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", "chunk.wav")
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		c.fail(opTranscribe, start, err)
		return ""
	}

	resp, _, err := c.do(ctx, opTranscribe, "/transcribe", c.timeouts.Transcribe, w.FormDataContentType(), body.Bytes())
	if err != nil {
		c.fail(opTranscribe, start, err)
		return ""
	}
	transcript := NormalizeJSON(resp).Transcript
	c.succeed(opTranscribe, start)
	return transcript
}

// SynthesizeSpeech returns base64 audio for text, or nil. The upstream may
// answer with raw audio bytes or a JSON document carrying base64 audio.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) *string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	start := time.Now()

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		c.fail(opSpeech, start, err)
		return nil
	}
	resp, contentType, err := c.do(ctx, opSpeech, "/synthesize-speech", c.timeouts.Speech, "application/json", payload)
	if err != nil {
		c.fail(opSpeech, start, err)
		return nil
	}

	var audio *string
	if isJSON(contentType) {
		audio = NormalizeJSON(resp).AIAudio
	} else if len(resp) > 0 {
		encoded := base64.StdEncoding.EncodeToString(resp)
		audio = &encoded
	}
	if audio == nil {
		c.fail(opSpeech, start, ErrEmptyResponse)
		return nil
	}
	c.succeed(opSpeech, start)
	return audio
}

// GenerateExaminerTurn asks for the next examiner utterance. On failure or an
// empty answer it returns a canned question for part.
func (c *Client) GenerateExaminerTurn(ctx context.Context, history []types.Turn, part, questionCount int) string {
	start := time.Now()

	payload, err := json.Marshal(struct {
		History       []historyEntry `json:"conversation_history"`
		CurrentPart   int            `json:"current_part"`
		QuestionCount int            `json:"question_count"`
	}{toHistory(history, true), part, questionCount})
	if err != nil {
		c.fail(opExaminer, start, err)
		return FallbackQuestion(part, c.pick)
	}

	resp, _, err := c.do(ctx, opExaminer, "/generate-examiner-response", c.timeouts.Examiner, "application/json", payload)
	if err != nil {
		c.fail(opExaminer, start, err)
		return FallbackQuestion(part, c.pick)
	}
	text := strings.TrimSpace(NormalizeJSON(resp).AIResponse)
	if text == "" {
		c.fail(opExaminer, start, ErrEmptyResponse)
		return FallbackQuestion(part, c.pick)
	}
	c.succeed(opExaminer, start)
	return text
}

// QuickEvaluate scores one answer in the context of the question it follows.
func (c *Client) QuickEvaluate(ctx context.Context, question, answer string) types.Evaluation {
	start := time.Now()

	payload, err := json.Marshal(map[string]string{"question": question, "answer": answer})
	if err != nil {
		c.fail(opQuickEvaluate, start, err)
		return fallbackQuickEvaluation()
	}
	resp, _, err := c.do(ctx, opQuickEvaluate, "/quick-evaluate", c.timeouts.QuickEvaluate, "application/json", payload)
	if err != nil {
		c.fail(opQuickEvaluate, start, err)
		return fallbackQuickEvaluation()
	}
	obj, ok := decode(resp).(map[string]any)
	if !ok {
		c.fail(opQuickEvaluate, start, ErrEmptyResponse)
		return fallbackQuickEvaluation()
	}
	c.succeed(opQuickEvaluate, start)
	return normalizeEvaluation(obj)
}

// RealtimeFeedback summarizes the recent turns. Missing criteria default to the neutral score.
func (c *Client) RealtimeFeedback(ctx context.Context, recent []types.Turn) types.RealtimeFeedback {
	start := time.Now()

	payload, err := json.Marshal(struct {
		Recent []historyEntry `json:"recent_conversation"`
	}{toHistory(recent, false)})
	if err != nil {
		c.fail(opFeedback, start, err)
		return fallbackRealtimeFeedback()
	}
	resp, _, err := c.do(ctx, opFeedback, "/realtime-feedback", c.timeouts.Feedback, "application/json", payload)
	if err != nil {
		c.fail(opFeedback, start, err)
		return fallbackRealtimeFeedback()
	}
	obj, ok := decode(resp).(map[string]any)
	if !ok {
		c.fail(opFeedback, start, ErrEmptyResponse)
		return fallbackRealtimeFeedback()
	}
	c.succeed(opFeedback, start)

	eval := normalizeEvaluation(obj)
	return types.RealtimeFeedback{
		Feedback:      eval.Feedback,
		Fluency:       numberOr(obj, neutralScore, "evaluation.fluency", "fluency"),
		Vocabulary:    numberOr(obj, neutralScore, "evaluation.vocabulary", "vocabulary"),
		Grammar:       numberOr(obj, neutralScore, "evaluation.grammar", "grammar"),
		Pronunciation: numberOr(obj, neutralScore, "evaluation.pronunciation", "pronunciation"),
		Suggestions:   eval.Suggestions,
	}
}

// Evaluate produces the final aggregate from examiner/candidate pairs.
// The request is multipart with questions and answers as JSON arrays.
func (c *Client) Evaluate(ctx context.Context, pairs []types.Pair) types.FinalEvaluation {
	start := time.Now()

	questions := make([]string, 0, len(pairs))
	answers := make([]string, 0, len(pairs))
	for _, p := range pairs {
		questions = append(questions, p.Question.Content)
		answers = append(answers, p.Answer.Content)
	}

	body, contentType, err := multipartFields(map[string]any{"questions": questions, "answers": answers})
	if err != nil {
		c.fail(opEvaluate, start, err)
		return fallbackFinalEvaluation()
	}
	resp, _, err := c.do(ctx, opEvaluate, "/evaluate", c.timeouts.Evaluate, contentType, body)
	if err != nil {
		c.fail(opEvaluate, start, err)
		return fallbackFinalEvaluation()
	}
	obj, ok := decode(resp).(map[string]any)
	if !ok {
		c.fail(opEvaluate, start, ErrEmptyResponse)
		return fallbackFinalEvaluation()
	}
	c.succeed(opEvaluate, start)

	eval := normalizeEvaluation(obj)
	band := neutralScore
	if eval.Score != nil {
		band = *eval.Score
	} else {
		eval.Score = &band
	}
	return types.FinalEvaluation{
		Evaluation:      eval,
		OverallBand:     band,
		Fluency:         numberOr(obj, neutralScore, "evaluation.fluency", "fluency"),
		Vocabulary:      numberOr(obj, neutralScore, "evaluation.vocabulary", "vocabulary"),
		Grammar:         numberOr(obj, neutralScore, "evaluation.grammar", "grammar"),
		Pronunciation:   numberOr(obj, neutralScore, "evaluation.pronunciation", "pronunciation"),
		Weaknesses:      firstStrings(obj, "evaluation.weaknesses", "weaknesses"),
		ImprovedAnswers: firstStrings(obj, "evaluation.improved_answers", "improved_answers"),
	}
}

// SaveSession posts a finished session record. Unlike the other calls it
// reports failure, since the caller decides how to log best-effort persistence.
func (c *Client) SaveSession(ctx context.Context, record *types.SessionRecord) error {
	start := time.Now()

	payload, err := json.Marshal(struct {
		SessionID      string                 `json:"session_id"`
		History        []historyEntry         `json:"conversation_history"`
		TotalDuration  int64                  `json:"total_duration"`
		PartsCompleted int                    `json:"parts_completed"`
		Completed      bool                   `json:"completed"`
		Evaluation     *types.FinalEvaluation `json:"evaluation,omitempty"`
	}{
		SessionID:      record.SessionID,
		History:        toHistory(record.Turns, true),
		TotalDuration:  record.Duration().Milliseconds(),
		PartsCompleted: record.CurrentPart,
		Completed:      record.Completed,
		Evaluation:     record.Evaluation,
	})
	if err != nil {
		c.fail(opSaveSession, start, err)
		return fmt.Errorf("encode session record: %w", err)
	}
	if _, _, err := c.do(ctx, opSaveSession, "/save-session", c.timeouts.SaveSession, "application/json", payload); err != nil {
		c.fail(opSaveSession, start, err)
		return err
	}
	c.succeed(opSaveSession, start)
	return nil
}

// do performs one POST under its own timeout and span.
func (c *Client) do(ctx context.Context, op, path string, timeout time.Duration, contentType string, body []byte) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "aiclient."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("examroom.ai.op", op),
		attribute.Int("examroom.ai.request_bytes", len(body)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) succeed(op string, start time.Time) {
	c.metrics.ObserveAICall(op, "ok", time.Since(start))
}

func (c *Client) fail(op string, start time.Time, err error) {
	c.metrics.ObserveAICall(op, "fallback", time.Since(start))
	c.logger.Warn("ai call failed, using fallback", "op", op, "error", err)
}

func multipartFields(fields map[string]any) ([]byte, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField(name, string(encoded)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), w.FormDataContentType(), nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
