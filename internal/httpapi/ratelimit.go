package httpapi

import (
	"sync"
	"time"
)

// attemptLimiter is a fixed-window counter keyed by client. Login uses it to
// slow down password guessing; a successful login clears the key.
type attemptLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	windows   map[string]attemptWindow
	lastSweep time.Time
	now       func() time.Time
}

type attemptWindow struct {
	startedAt time.Time
	count     int
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		max:     max,
		window:  window,
		windows: make(map[string]attemptWindow),
		now:     time.Now,
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startedAt) >= l.window {
		l.windows[key] = attemptWindow{startedAt: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	l.windows[key] = w
	return true
}

func (l *attemptLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// sweep drops expired windows at most once per window. Caller holds mu.
func (l *attemptLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for key, w := range l.windows {
		if now.Sub(w.startedAt) >= l.window {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}
