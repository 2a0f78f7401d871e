// access/ratelimit.go
package access

import (
	"sync"
	"time"
)

const (
	DefaultRateLimitThreshold = 20
	DefaultRateLimitWindow    = 60 * time.Second
)

// subjectWindow tracks request volume for one subject inside the current
// window.
type subjectWindow struct {
	count       int
	windowStart time.Time
}

// RateLimiter enforces a per-subject request ceiling per window. Windows
// reset once their span has fully elapsed.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*subjectWindow
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewRateLimiter(threshold int, window time.Duration, now func() time.Time) *RateLimiter {
	if threshold <= 0 {
		threshold = DefaultRateLimitThreshold
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		windows:   make(map[string]*subjectWindow),
		threshold: threshold,
		window:    window,
		now:       now,
	}
}

// Allow counts one request for the subject. When the ceiling is exceeded
// it reports false along with the wait until the window resets.
func (l *RateLimiter) Allow(subjectID string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[subjectID]
	if !ok || now.Sub(w.windowStart) > l.window {
		l.windows[subjectID] = &subjectWindow{count: 1, windowStart: now}
		return true, 0
	}

	w.count++
	if w.count > l.threshold {
		return false, l.window - now.Sub(w.windowStart)
	}
	return true, 0
}

// Prune drops windows that have fully elapsed so the map does not grow
// with every subject ever seen.
func (l *RateLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for subjectID, w := range l.windows {
		if now.Sub(w.windowStart) > l.window {
			delete(l.windows, subjectID)
			removed++
		}
	}
	return removed
}
