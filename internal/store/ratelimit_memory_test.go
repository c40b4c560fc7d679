package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for the in-memory limiter.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var memPolicy = RateLimit{MaxAttempts: 3, Window: time.Minute, LockoutTTL: 5 * time.Minute}

func TestMemoryRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to max then locks out", func(t *testing.T) {
		l := NewMemoryRateLimiter(newFakeClock().Now)
		for i := range 3 {
			require.NoError(t, l.Allow(ctx, "ip:1.2.3.4", memPolicy), "hit %d", i+1)
		}
		assert.ErrorIs(t, l.Allow(ctx, "ip:1.2.3.4", memPolicy), ErrRateLimitExceeded)
	})

	t.Run("lockout lasts LockoutTTL, not Window", func(t *testing.T) {
		clk := newFakeClock()
		l := NewMemoryRateLimiter(clk.Now)
		for range 4 {
			l.Allow(ctx, "k", memPolicy)
		}

		clk.Advance(2 * time.Minute)
		assert.ErrorIs(t, l.Allow(ctx, "k", memPolicy), ErrRateLimitExceeded)

		clk.Advance(3 * time.Minute)
		assert.NoError(t, l.Allow(ctx, "k", memPolicy), "lockout should have expired")
	})

	t.Run("window resets the count", func(t *testing.T) {
		clk := newFakeClock()
		l := NewMemoryRateLimiter(clk.Now)
		for range 3 {
			require.NoError(t, l.Allow(ctx, "k", memPolicy))
		}

		clk.Advance(time.Minute)
		for range 3 {
			assert.NoError(t, l.Allow(ctx, "k", memPolicy))
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := NewMemoryRateLimiter(newFakeClock().Now)
		for range 4 {
			l.Allow(ctx, "ip:a", memPolicy)
		}
		assert.NoError(t, l.Allow(ctx, "ip:b", memPolicy))
	})

	t.Run("zero max disables the policy", func(t *testing.T) {
		l := NewMemoryRateLimiter(nil)
		for range 100 {
			require.NoError(t, l.Allow(ctx, "k", RateLimit{}))
		}
		assert.Equal(t, 0, l.Len())
	})

	t.Run("sweep keeps live windows and lockouts", func(t *testing.T) {
		clk := newFakeClock()
		l := NewMemoryRateLimiter(clk.Now)
		l.Allow(ctx, "quiet", memPolicy)
		for range 4 {
			l.Allow(ctx, "locked", memPolicy)
		}

		clk.Advance(2 * time.Minute)
		l.Allow(ctx, "fresh", memPolicy)

		assert.Equal(t, 1, l.Sweep())
		assert.Equal(t, 2, l.Len())
	})

	t.Run("concurrent hits never exceed max", func(t *testing.T) {
		l := NewMemoryRateLimiter(newFakeClock().Now)
		policy := RateLimit{MaxAttempts: 10, Window: time.Minute, LockoutTTL: time.Minute}

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Allow(ctx, "k", policy) == nil {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, allowed)
	})
}
