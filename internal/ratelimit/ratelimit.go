// Package ratelimit tracks authentication failures per remote host
// and locks out hosts that exceed the limit within a sliding window.
// It slows down challenge-response brute forcing without punishing a
// device that fat-fingers a single pairing attempt.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultLimit is the failure count that triggers a lockout.
	DefaultLimit = 10
	// DefaultWindow is the sliding window failures are counted over.
	DefaultWindow = time.Minute
)

// Limiter counts failures per key within a sliding window.
// Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	failures map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter. Non-positive limit or window fall back to
// the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:    limit,
		window:   window,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RecordFailure notes one failed attempt for key.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(l.prune(key), l.now())
}

// Reset clears the failure history for key. Call on successful auth.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// Blocked reports whether key has reached the failure limit within
// the window.
func (l *Limiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.prune(key)
	if len(recent) == 0 {
		delete(l.failures, key)
		return false
	}
	l.failures[key] = recent
	return len(recent) >= l.limit
}

// Reason describes the active lockout for error messages.
func (l *Limiter) Reason() string {
	return fmt.Sprintf("too many failed attempts: limit %d per %s", l.limit, l.window)
}

// prune drops entries older than the window. Caller holds the lock.
func (l *Limiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	var recent []time.Time
	for _, t := range l.failures[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}
