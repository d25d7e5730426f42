package aiclient

import (
	"math/rand/v2"

	"examroom/pkg/types"
)

// neutralScore is used for every criterion when the upstream scorer is unavailable.
const neutralScore = 6.0

var fallbackQuestions = map[int][]string{
	1: {
		"Let's talk about where you live. What do you like most about your neighbourhood?",
		"How do you usually spend your weekends?",
		"Are you working or studying at the moment?",
		"What kind of food do you enjoy cooking or eating?",
	},
	2: {
		"Describe a journey you remember well. You should say where you went, how you travelled, who you were with, and explain why it stayed in your memory.",
		"Describe a skill you would like to learn. You should say what it is, how you would learn it, how long it might take, and explain why it matters to you.",
	},
	3: {
		"How has the internet changed the way friends keep in touch?",
		"What are the benefits and drawbacks of working from home?",
		"Why do you think some traditions disappear while others survive?",
		"How might schools need to change over the next twenty years?",
	},
}

// FallbackQuestion returns a canned question for part. Unknown parts use the part 1 pool.
func FallbackQuestion(part int, pick func(n int) int) string {
	pool, ok := fallbackQuestions[part]
	if !ok {
		pool = fallbackQuestions[1]
	}
	if pick == nil {
		pick = rand.IntN
	}
	return pool[pick(len(pool))]
}

// FallbackPool exposes the canned questions for a part.
func FallbackPool(part int) []string {
	pool, ok := fallbackQuestions[part]
	if !ok {
		pool = fallbackQuestions[1]
	}
	out := make([]string, len(pool))
	copy(out, pool)
	return out
}

func fallbackQuickEvaluation() types.Evaluation {
	score := neutralScore
	return types.Evaluation{
		Feedback:    "Keep going, you're doing well.",
		Score:       &score,
		Strengths:   []string{"Clear communication"},
		Suggestions: []string{"Try to develop your points with an example"},
	}
}

func fallbackRealtimeFeedback() types.RealtimeFeedback {
	return types.RealtimeFeedback{
		Feedback:      "Keep up the good work.",
		Fluency:       neutralScore,
		Vocabulary:    neutralScore,
		Grammar:       neutralScore,
		Pronunciation: neutralScore,
		Suggestions:   []string{"Continue speaking naturally"},
	}
}

func fallbackFinalEvaluation() types.FinalEvaluation {
	score := neutralScore
	return types.FinalEvaluation{
		Evaluation: types.Evaluation{
			Feedback:    "We couldn't evaluate this session right now. Thank you for completing the speaking practice.",
			Score:       &score,
			Strengths:   []string{"Completed the test"},
			Suggestions: []string{},
		},
		OverallBand:     neutralScore,
		Fluency:         neutralScore,
		Vocabulary:      neutralScore,
		Grammar:         neutralScore,
		Pronunciation:   neutralScore,
		Weaknesses:      []string{"Continue practicing"},
		ImprovedAnswers: []string{},
	}
}
