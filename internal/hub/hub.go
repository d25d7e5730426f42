// Package hub runs each connection's work on its own serial lane: jobs for one
// lane execute one at a time in submission order, lanes run independently.
package hub

import (
	"context"
	"fmt"
	"sync"

	"examroom/pkg/interfaces"
	"examroom/pkg/logging"
)

const defaultLaneBuffer = 64

// Hub owns the set of open lanes.
type Hub struct {
	lanes      map[string]*lane
	laneBuffer int
	logger     *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

type lane struct {
	id     string
	jobs   chan interfaces.Job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. laneBuffer <= 0 uses the default queue depth.
func NewHub(laneBuffer int, logger *logging.Logger) *Hub {
	if laneBuffer <= 0 {
		laneBuffer = defaultLaneBuffer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		lanes:      make(map[string]*lane),
		laneBuffer: laneBuffer,
		logger:     logger.With("component", "hub"),
	}
}

// Start enables lanes. Lane contexts derive from ctx.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true
	h.logger.Info("hub started")
	return nil
}

// Stop cancels every lane and waits for in-flight jobs to return.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	lanes := make([]*lane, 0, len(h.lanes))
	for id, l := range h.lanes {
		lanes = append(lanes, l)
		delete(h.lanes, id)
	}
	h.cancel()
	h.mu.Unlock()

	for _, l := range lanes {
		<-l.done
	}
	h.logger.Info("hub stopped", "lanes_closed", len(lanes))
	return nil
}

// Open starts a lane for id.
func (h *Hub) Open(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	if _, exists := h.lanes[id]; exists {
		return ErrLaneExists
	}

	ctx, cancel := context.WithCancel(h.ctx)
	l := &lane{
		id:     id,
		jobs:   make(chan interfaces.Job, h.laneBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.lanes[id] = l
	go h.run(l)
	return nil
}

// Submit queues job on lane id without blocking.
func (h *Hub) Submit(id string, job interfaces.Job) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	l, ok := h.lanes[id]
	if !ok {
		return ErrLaneNotFound
	}
	select {
	case l.jobs <- job:
		return nil
	default:
		return ErrLaneFull
	}
}

// Close cancels lane id and waits for its current job to return. Queued jobs
// are discarded. Close must not be called from a job running on that lane.
func (h *Hub) Close(id string) error {
	h.mu.Lock()
	l, ok := h.lanes[id]
	if ok {
		delete(h.lanes, id)
	}
	h.mu.Unlock()
	if !ok {
		return ErrLaneNotFound
	}
	l.cancel()
	<-l.done
	return nil
}

// Lanes returns the number of open lanes.
func (h *Hub) Lanes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.lanes)
}

func (h *Hub) run(l *lane) {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case job := <-l.jobs:
			if l.ctx.Err() != nil {
				return
			}
			if err := h.execute(l, job); err != nil {
				h.logger.Error("lane job panicked", "lane", l.id, "error", err)
			}
		}
	}
}

// execute runs one job, converting a panic into an error so the lane survives.
func (h *Hub) execute(l *lane, job interfaces.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	job(l.ctx)
	return nil
}
