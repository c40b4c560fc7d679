package store

import (
	"context"
	"sync"
	"time"
)

// MemoryRateLimiter is the process-local RateLimit enforcer used when Redis
// is not configured. It follows the same fixed-window and lockout rules as
// the Redis script, per key.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	now     func() time.Time
}

type rateEntry struct {
	count       int
	windowEnd   time.Time
	lockedUntil time.Time
}

// NewMemoryRateLimiter returns an empty limiter. A nil now uses time.Now.
func NewMemoryRateLimiter(now func() time.Time) *MemoryRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimiter{
		entries: make(map[string]*rateEntry),
		now:     now,
	}
}

// Allow records one hit for key and returns ErrRateLimitExceeded while the
// key is locked out or once the hit pushes it past policy.MaxAttempts.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e := l.entries[key]
	if e == nil {
		e = &rateEntry{}
		l.entries[key] = e
	}
	if now.Before(e.lockedUntil) {
		return ErrRateLimitExceeded
	}
	if !now.Before(e.windowEnd) {
		e.count = 0
		e.windowEnd = now.Add(policy.Window)
	}
	e.count++
	if e.count > policy.MaxAttempts {
		// Lockout replaces the counter; a fresh window starts after it.
		e.count = 0
		e.windowEnd = time.Time{}
		e.lockedUntil = now.Add(policy.LockoutTTL)
		return ErrRateLimitExceeded
	}
	return nil
}

// Sweep drops keys with neither a live window nor a live lockout and returns
// how many were removed.
func (l *MemoryRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for key, e := range l.entries {
		if !now.Before(e.windowEnd) && !now.Before(e.lockedUntil) {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *MemoryRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunJanitor sweeps every interval until ctx is done.
func (l *MemoryRateLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
