package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a process-local fixed-window counter.
type RateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  period,
		clock:   time.Now,
		windows: make(map[string]window),
	}
}

func (r *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[key]
	if !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(r.window)}
		r.sweep(now)
	}
	w.count++
	r.windows[key] = w
	return w.count <= r.limit, nil
}

// sweep drops expired windows. Callers hold r.mu.
func (r *RateLimiter) sweep(now time.Time) {
	for key, w := range r.windows {
		if !now.Before(w.resetAt) {
			delete(r.windows, key)
		}
	}
}
