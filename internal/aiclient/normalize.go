package aiclient

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"examroom/pkg/types"
)

// Key priority per normalized field. The first present, well-typed key wins.
var (
	transcriptKeys  = []string{"transcript", "text"}
	feedbackKeys    = []string{"evaluation.detailed_feedback", "evaluation.feedback", "detailed_feedback", "feedback"}
	scoreKeys       = []string{"evaluation.overall_band", "evaluation.score", "evaluation.score_float", "overall_band", "score"}
	strengthsKeys   = []string{"evaluation.strengths", "strengths"}
	suggestionsKeys = []string{"evaluation.suggestions", "suggestions"}
	responseKeys    = []string{"ai_response", "response", "question"}
	audioKeys       = []string{"audio", "audio_data", "ai_audio_base64"}
)

// Normalize maps any decoded JSON value onto a NormalizedAIResponse.
// It never fails: unknown shapes yield empty strings, empty slices and a nil score.
func Normalize(raw any) types.NormalizedAIResponse {
	obj, _ := raw.(map[string]any)

	out := types.NormalizedAIResponse{
		Transcript: firstString(obj, transcriptKeys...),
		Evaluation: normalizeEvaluation(obj),
		AIResponse: firstString(obj, responseKeys...),
	}
	if audio := firstString(obj, audioKeys...); audio != "" {
		out.AIAudio = &audio
	}
	return out
}

// NormalizeJSON decodes data and normalizes it. Invalid JSON normalizes to defaults.
func NormalizeJSON(data []byte) types.NormalizedAIResponse {
	return Normalize(decode(data))
}

func normalizeEvaluation(obj map[string]any) types.Evaluation {
	return types.Evaluation{
		Feedback:    firstString(obj, feedbackKeys...),
		Score:       firstNumber(obj, scoreKeys...),
		Strengths:   firstStrings(obj, strengthsKeys...),
		Suggestions: firstStrings(obj, suggestionsKeys...),
	}
}

func decode(data []byte) any {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// lookup resolves a dotted path through nested objects.
func lookup(obj map[string]any, path string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	head, rest, nested := strings.Cut(path, ".")
	v, ok := obj[head]
	if !ok || v == nil {
		return nil, false
	}
	if !nested {
		return v, true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, rest)
}

// firstString returns the first non-empty string value.
func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := lookup(obj, key)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// firstNumber accepts JSON numbers and numeric strings; anything unparsable is skipped.
func firstNumber(obj map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		v, ok := lookup(obj, key)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// firstStrings returns the string elements of the first array found. Never nil.
func firstStrings(obj map[string]any, keys ...string) []string {
	for _, key := range keys {
		v, ok := lookup(obj, key)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// numberOr returns the first number under keys, or def.
func numberOr(obj map[string]any, def float64, keys ...string) float64 {
	if f := firstNumber(obj, keys...); f != nil {
		return *f
	}
	return def
}
