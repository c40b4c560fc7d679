package ipblock

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is the process-local block store. Entries expire lazily on
// read and are swept periodically by RunJanitor.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time // ip -> block expiry
	now     func() time.Time
}

// NewMemoryCache returns an empty cache. A nil now uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// IsBlocked reports whether ip has a live block entry.
func (c *MemoryCache) IsBlocked(_ context.Context, ip string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.entries[ip]
	return ok && c.now().Before(exp), nil
}

// Block records a block for ttl. A live entry is left untouched so the
// block window stays fixed from the first trigger.
func (c *MemoryCache) Block(_ context.Context, ip string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.entries[ip]; ok && now.Before(exp) {
		return nil
	}
	c.entries[ip] = now.Add(ttl)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for ip, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, ip)
			n++
		}
	}
	return n
}

// Len returns the number of entries, live or expired but not yet swept.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RunJanitor sweeps every interval until ctx is done.
func (c *MemoryCache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
