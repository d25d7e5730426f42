package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examroom/pkg/interfaces"
	"examroom/pkg/types"
)

func TestConfig_DefaultsAndQuota(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Quota(1))
	assert.Equal(t, 1, cfg.Quota(2))
	assert.Equal(t, 4, cfg.Quota(3))
	assert.Equal(t, 3*time.Second, cfg.AdvanceDelay)

	cfg.Quotas[1] = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidQuota)
}

func TestBegin_GreetsWithoutCounting(t *testing.T) {
	h := newHarness(t, nil)
	audio := "QUJD"
	h.ai.audio = &audio

	h.machine.Begin(context.Background(), h.sess, h.out)

	assert.Equal(t, []string{types.EventSessionStarted, types.EventAIMessage, types.EventAIAudio}, h.out.names())
	payload, _ := h.out.last(types.EventSessionStarted)
	started := payload.(types.SessionStarted)
	assert.Equal(t, "sess-1", started.SessionID)
	assert.Equal(t, 1, started.CurrentPart)
	assert.Equal(t, Greeting(func(int) int { return 0 }), started.Message)

	assert.Equal(t, 0, h.sess.QuestionCount())
	require.Equal(t, 1, h.sess.Ledger.Len())
	assert.Equal(t, types.SpeakerExaminer, h.sess.Ledger.Snapshot()[0].Speaker)
	assert.Equal(t, started.Message, h.sess.CurrentQuestion())
}

func TestBegin_NoAudioWhenSynthesisFails(t *testing.T) {
	h := newHarness(t, nil)
	h.machine.Begin(context.Background(), h.sess, h.out)
	assert.Equal(t, 0, h.out.count(types.EventAIAudio))
}

func TestCandidateTurn_AppendsCandidateThenExaminer(t *testing.T) {
	h := newHarness(t, nil)
	h.machine.Begin(context.Background(), h.sess, h.out)
	h.out.reset()

	h.text("  I am from Da Nang  ")

	turns := h.sess.Ledger.Snapshot()
	require.Len(t, turns, 3)
	assert.Equal(t, types.SpeakerCandidate, turns[1].Speaker)
	assert.Equal(t, "I am from Da Nang", turns[1].Content)
	assert.Equal(t, types.SpeakerExaminer, turns[2].Speaker)
	assert.Equal(t, 1, h.sess.QuestionCount())
	assert.Equal(t, "question", h.sess.CurrentQuestion())

	assert.Equal(t, []string{types.EventQuickFeedback, types.EventAIMessage}, h.out.names())
	payload, _ := h.out.last(types.EventAIMessage)
	msg := payload.(types.AIMessage)
	assert.Equal(t, types.ExaminerMessageType, msg.Type)
	assert.Equal(t, 1, msg.Part)
}

func TestHandleText_BlankIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.text("   ")
	assert.Zero(t, h.sess.Ledger.Len())
	assert.Empty(t, h.out.names())
}

func TestPartQuota_AutoAdvance(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		h.text("answer")
		assert.False(t, h.sess.AdvancePending())
	}
	h.text("answer")
	assert.Equal(t, 4, h.sess.QuestionCount())
	assert.True(t, h.sess.AdvancePending())
	assert.Equal(t, 1, h.sess.CurrentPart())

	h.poster.runNext(t)
	assert.Equal(t, 2, h.sess.CurrentPart())
	assert.Equal(t, 0, h.sess.QuestionCount())
	assert.False(t, h.sess.AdvancePending())

	payload, ok := h.out.last(types.EventPartTransition)
	require.True(t, ok)
	transition := payload.(types.PartTransition)
	assert.Equal(t, 2, transition.CurrentPart)
	assert.Equal(t, Instruction(2), transition.Instruction)

	turns := h.sess.Ledger.Snapshot()
	require.GreaterOrEqual(t, len(turns), 2)
	assert.Equal(t, types.SpeakerSystem, turns[len(turns)-2].Speaker)
	assert.Equal(t, types.SpeakerExaminer, turns[len(turns)-1].Speaker)

	// Part 2 has a quota of one.
	h.text("long turn")
	assert.True(t, h.sess.AdvancePending())
	h.poster.runNext(t)
	assert.Equal(t, 3, h.sess.CurrentPart())
	assert.Equal(t, 0, h.sess.QuestionCount())
}

func TestPendingAdvance_NoExaminerTurn(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Quotas = [LastPart]int{1, 1, 1} })

	h.text("first")
	require.True(t, h.sess.AdvancePending())
	_, examinerBefore, _ := h.ai.calls()
	lenBefore := h.sess.Ledger.Len()

	h.text("extra")

	_, examinerAfter, _ := h.ai.calls()
	assert.Equal(t, examinerBefore, examinerAfter)
	assert.Equal(t, lenBefore+1, h.sess.Ledger.Len())
	assert.Equal(t, 1, h.sess.QuestionCount())
	assert.Equal(t, 2, h.out.count(types.EventQuickFeedback))
}

func TestExplicitAdvance_PreemptsScheduled(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Quotas = [LastPart]int{1, 1, 1}
		c.AdvanceDelay = time.Hour
	})

	h.text("answer")
	require.True(t, h.sess.AdvancePending())
	require.True(t, h.sess.scheduler.Pending())

	h.machine.NextPart(context.Background(), h.sess, h.out)
	assert.Equal(t, 2, h.sess.CurrentPart())
	assert.False(t, h.sess.scheduler.Pending())

	// A scheduled advance that already fired for part 1 is now a no-op.
	h.machine.advance(context.Background(), h.sess, h.out, reasonScheduled, 1)
	assert.Equal(t, 2, h.sess.CurrentPart())
	assert.Equal(t, 1, h.out.count(types.EventPartTransition))
}

func TestCompletion_TerminalState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.machine.Begin(ctx, h.sess, h.out)
	h.text("answer one")

	h.machine.NextPart(ctx, h.sess, h.out)
	h.machine.NextPart(ctx, h.sess, h.out)
	require.Equal(t, 3, h.sess.CurrentPart())
	h.text("answer two")

	h.machine.NextPart(ctx, h.sess, h.out)
	require.True(t, h.sess.Completed())
	assert.Equal(t, 1, h.out.count(types.EventTestComplete))

	payload, _ := h.out.last(types.EventTestComplete)
	complete := payload.(types.TestComplete)
	assert.Equal(t, 7.0, complete.Evaluation.OverallBand)
	assert.Equal(t, 2, complete.SessionSummary.TotalExchanges)
	assert.Equal(t, 3, complete.SessionSummary.PartsCompleted)
	assert.GreaterOrEqual(t, complete.SessionSummary.TotalDuration, int64(0))

	// Pairs sent for evaluation are examiner/candidate adjacencies only.
	require.Len(t, h.ai.lastPairs, 2)
	assert.Equal(t, "answer one", h.ai.lastPairs[0].Answer.Content)
	assert.Equal(t, "answer two", h.ai.lastPairs[1].Answer.Content)

	length := h.sess.Ledger.Len()
	h.text("after the end")
	h.machine.AcceptChunk(ctx, h.sess, h.out, types.AudioChunk{Chunk: "WA==", IsLast: true})
	h.machine.NextPart(ctx, h.sess, h.out)
	assert.Equal(t, length, h.sess.Ledger.Len())
	assert.Equal(t, 1, h.out.count(types.EventTestComplete))
	_, _, evaluations := h.ai.calls()
	assert.Equal(t, 1, evaluations)

	// Read-only requests still work.
	h.machine.Feedback(ctx, h.sess, h.out)
	h.machine.Stats(h.sess, h.out)
	assert.Equal(t, 1, h.out.count(types.EventFeedback))
	payload, _ = h.out.last(types.EventSessionStats)
	assert.True(t, payload.(types.SessionStats).Completed)
}

func TestScheduledAdvance_AfterCompletionIsNoop(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Quotas = [LastPart]int{1, 1, 1}
		c.AdvanceDelay = time.Hour
	})
	ctx := context.Background()
	h.machine.NextPart(ctx, h.sess, h.out)
	h.machine.NextPart(ctx, h.sess, h.out)
	h.machine.NextPart(ctx, h.sess, h.out)
	require.True(t, h.sess.Completed())

	h.machine.advance(ctx, h.sess, h.out, reasonScheduled, 3)
	assert.Equal(t, 1, h.out.count(types.EventTestComplete))
}

func TestScheduledAdvance_RetriesWhileLaneFull(t *testing.T) {
	busy := &refusingPoster{err: interfaces.ErrLaneFull, remaining: 3}
	h := newHarnessWithPoster(t, busy,
		func(c *Config) { c.Quotas = [LastPart]int{1, 1, 1} },
		WithAdvanceRetryDelay(time.Millisecond),
	)
	busy.next = h.poster

	h.text("answer")
	require.True(t, h.sess.AdvancePending())

	h.poster.runNext(t)
	assert.Equal(t, 4, busy.attemptCount())
	assert.Equal(t, 2, h.sess.CurrentPart())
	assert.False(t, h.sess.AdvancePending())
	assert.Equal(t, 1, h.out.count(types.EventPartTransition))
}

func TestScheduledAdvance_RefusedSubmitKeepsPartGoing(t *testing.T) {
	closed := &refusingPoster{err: errors.New("lane closed"), remaining: -1}
	h := newHarnessWithPoster(t, closed, nil)
	closed.next = h.poster

	for i := 0; i < 4; i++ {
		h.text("answer")
	}
	require.Eventually(t, func() bool {
		return !h.sess.AdvancePending()
	}, 2*time.Second, 5*time.Millisecond)

	_, examinerBefore, _ := h.ai.calls()
	messagesBefore := h.out.count(types.EventAIMessage)

	h.text("still answering")

	_, examinerAfter, _ := h.ai.calls()
	assert.Equal(t, examinerBefore+1, examinerAfter)
	assert.Equal(t, messagesBefore+1, h.out.count(types.EventAIMessage))
	assert.Equal(t, 1, h.sess.CurrentPart())
	assert.GreaterOrEqual(t, closed.attemptCount(), 1)
}

func TestFeedback_UsesRecentWindow(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FeedbackWindow = 2 })
	for i := 0; i < 3; i++ {
		h.text("answer")
	}

	h.machine.Feedback(context.Background(), h.sess, h.out)
	assert.Len(t, h.ai.lastRecent, 2)
	payload, ok := h.out.last(types.EventFeedback)
	require.True(t, ok)
	assert.Equal(t, "steady", payload.(types.Feedback).Feedback)
}

func TestAdvisoryEvents(t *testing.T) {
	h := newHarness(t, nil)

	h.machine.Pause(h.sess, h.out)
	assert.True(t, h.sess.IsPaused())
	h.machine.Resume(h.sess, h.out)
	assert.False(t, h.sess.IsPaused())
	h.machine.Ping(h.sess, h.out)
	h.machine.Stats(h.sess, h.out)

	assert.Equal(t, []string{
		types.EventSessionPaused,
		types.EventSessionResumed,
		types.EventPong,
		types.EventSessionStats,
	}, h.out.names())
	assert.Equal(t, 1, h.sess.CurrentPart())
}
