package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests step time forward deterministically.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.now
	return l, clock
}

func TestNotBlockedBelowLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	l.RecordFailure("10.0.0.1")
	l.RecordFailure("10.0.0.1")
	if l.Blocked("10.0.0.1") {
		t.Error("two failures with limit three should not block")
	}
}

func TestBlockedAtLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		l.RecordFailure("10.0.0.1")
	}
	if !l.Blocked("10.0.0.1") {
		t.Error("three failures with limit three should block")
	}
}

func TestWindowExpiryUnblocks(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		l.RecordFailure("10.0.0.1")
	}
	clock.advance(61 * time.Second)
	if l.Blocked("10.0.0.1") {
		t.Error("failures outside the window should not count")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.RecordFailure("10.0.0.1")
	l.RecordFailure("10.0.0.1")
	if !l.Blocked("10.0.0.1") {
		t.Error("first key should be blocked")
	}
	if l.Blocked("10.0.0.2") {
		t.Error("second key has no failures")
	}
}

func TestResetClearsHistory(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.RecordFailure("10.0.0.1")
	l.RecordFailure("10.0.0.1")
	l.Reset("10.0.0.1")
	if l.Blocked("10.0.0.1") {
		t.Error("reset should clear the lockout")
	}
}

func TestSlidingWindowPartialExpiry(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	l.RecordFailure("10.0.0.1")
	clock.advance(45 * time.Second)
	l.RecordFailure("10.0.0.1")
	l.RecordFailure("10.0.0.1")
	if !l.Blocked("10.0.0.1") {
		t.Fatal("three failures inside the window should block")
	}

	// The first failure ages out; two remain.
	clock.advance(20 * time.Second)
	if l.Blocked("10.0.0.1") {
		t.Error("only two failures remain inside the window")
	}
}

func TestDefaultsApplied(t *testing.T) {
	l := New(0, 0)
	if l.limit != DefaultLimit || l.window != DefaultWindow {
		t.Errorf("got limit=%d window=%s", l.limit, l.window)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l, _ := newTestLimiter(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("host-%d", n%2)
			for j := 0; j < 50; j++ {
				l.RecordFailure(key)
				l.Blocked(key)
			}
		}(i)
	}
	wg.Wait()
}
