package session

import (
	"sync"
	"time"
)

// Scheduler holds at most one pending delayed action. Scheduling replaces any
// pending action; Cancel guarantees a cancelled action never runs its callback,
// even if its timer already fired and is racing for the lock.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewScheduler returns an idle Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule arranges for fire to run after delay on its own goroutine.
func (s *Scheduler) Schedule(delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fire()
	})
}

// Cancel drops the pending action. It reports whether one was pending.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.timer != nil
	s.stopLocked()
	s.gen++
	return pending
}

// Pending reports whether an action is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
