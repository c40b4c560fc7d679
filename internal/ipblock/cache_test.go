package ipblock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("live block is not extended", func(t *testing.T) {
		clk := newClock()
		c := NewMemoryCache(clk.Now)
		c.Block(ctx, "1.2.3.4", 30*time.Minute)

		clk.Advance(20 * time.Minute)
		c.Block(ctx, "1.2.3.4", 30*time.Minute)

		clk.Advance(10*time.Minute + time.Second)
		blocked, _ := c.IsBlocked(ctx, "1.2.3.4")
		assert.False(t, blocked, "block should expire 30m after the first write")
	})

	t.Run("expired entry can be replaced", func(t *testing.T) {
		clk := newClock()
		c := NewMemoryCache(clk.Now)
		c.Block(ctx, "1.2.3.4", time.Minute)
		clk.Advance(2 * time.Minute)

		c.Block(ctx, "1.2.3.4", time.Minute)
		blocked, _ := c.IsBlocked(ctx, "1.2.3.4")
		assert.True(t, blocked)
	})

	t.Run("sweep removes only expired entries", func(t *testing.T) {
		clk := newClock()
		c := NewMemoryCache(clk.Now)
		c.Block(ctx, "a", time.Minute)
		c.Block(ctx, "b", time.Hour)
		clk.Advance(2 * time.Minute)

		assert.Equal(t, 1, c.Sweep())
		assert.Equal(t, 1, c.Len())
	})

	t.Run("janitor stops with its context", func(t *testing.T) {
		c := NewMemoryCache(nil)
		cctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			c.RunJanitor(cctx, time.Millisecond)
			close(done)
		}()
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("janitor did not stop")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		c := NewMemoryCache(nil)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				c.Block(ctx, "ip", time.Duration(i+1)*time.Second)
			}()
			go func() {
				defer wg.Done()
				c.IsBlocked(ctx, "ip")
			}()
		}
		wg.Wait()
		blocked, _ := c.IsBlocked(ctx, "ip")
		assert.True(t, blocked)
	})
}
