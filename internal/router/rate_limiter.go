package router

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed per-minute event budget per connection.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit events per minute per key. limit <= 0 disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it fits the budget.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[key]
	if !ok || now.Sub(w.windowStart) >= time.Minute {
		rl.clients[key] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the state for key.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.clients, key)
	rl.mu.Unlock()
}

// Cleanup removes windows idle for more than five minutes.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*time.Minute {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
