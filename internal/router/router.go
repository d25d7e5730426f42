// Package router dispatches decoded client events to the session state machine.
package router

import (
	"context"
	"fmt"

	"examroom/internal/observability/metrics"
	"examroom/internal/session"
	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
	"examroom/pkg/types"
)

// Router maps inbound events onto Machine operations.
type Router struct {
	machine     *session.Machine
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
	logger      *logging.Logger
}

// NewRouter creates a Router. limitPerMinute <= 0 disables rate limiting.
func NewRouter(machine *session.Machine, limitPerMinute int, m *metrics.Metrics, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		machine:     machine,
		rateLimiter: NewRateLimiter(limitPerMinute),
		metrics:     m,
		logger:      logger.With("component", "router"),
	}
}

// Admit counts an inbound event against the connection's budget. It runs on
// the read side before the event is queued.
func (r *Router) Admit(connectionID, event string) error {
	r.metrics.ObserveEvent(event)
	if !r.rateLimiter.Allow(connectionID) {
		return ErrRateLimitExceeded
	}
	return nil
}

// Route runs one event against sess. It must be called on the session's lane.
func (r *Router) Route(ctx context.Context, sess *session.Session, out interfaces.Emitter, in types.Inbound) error {
	switch in.Event {
	case types.EventStartRecording:
		r.machine.StartRecording(sess, out)
	case types.EventStopRecording:
		r.machine.StopRecording(sess, out)
	case types.EventAudioChunk:
		chunk, ok := in.Payload.(*types.AudioChunk)
		if !ok || chunk == nil {
			return fmt.Errorf("%s: %w", in.Event, ErrMissingPayload)
		}
		r.machine.AcceptChunk(ctx, sess, out, *chunk)
	case types.EventTextMessage:
		msg, ok := in.Payload.(*types.TextMessage)
		if !ok || msg == nil {
			return fmt.Errorf("%s: %w", in.Event, ErrMissingPayload)
		}
		r.machine.HandleText(ctx, sess, out, msg.Message)
	case types.EventNextPart:
		r.machine.NextPart(ctx, sess, out)
	case types.EventGetFeedback:
		r.machine.Feedback(ctx, sess, out)
	case types.EventPauseSession:
		r.machine.Pause(sess, out)
	case types.EventResumeSession:
		r.machine.Resume(sess, out)
	case types.EventPing:
		r.machine.Ping(sess, out)
	case types.EventGetSessionStats:
		r.machine.Stats(sess, out)
	default:
		return fmt.Errorf("%q: %w", in.Event, ErrUnknownEvent)
	}
	return nil
}

// Sweep drops rate-limit windows that have been idle for five minutes.
func (r *Router) Sweep() {
	r.rateLimiter.Cleanup()
}

// Forget releases per-connection state.
func (r *Router) Forget(connectionID string) {
	r.rateLimiter.Forget(connectionID)
}
