// redis.go -- go-redis backed IP block tier and per-IP request limiter.
//
// Redis is optional. Without REDIS_URL the process-local block cache and
// MemoryRateLimiter are used instead, and nothing in the login path depends on it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL and pings the server before returning.
// All Redis-backed structs share the returned client's connection pool.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// --- Block cache ---

// RedisBlockCache shares IP block entries between app instances.
// Keys expire on their own; a live key is never overwritten or extended.
type RedisBlockCache struct {
	rdb *redis.Client
}

// NewRedisBlockCache wraps an existing client.
func NewRedisBlockCache(rdb *redis.Client) *RedisBlockCache {
	return &RedisBlockCache{rdb: rdb}
}

func blockKey(ip string) string {
	return "blocked_ip:" + ip
}

// IsBlocked reports whether ip has a live block entry.
func (c *RedisBlockCache) IsBlocked(ctx context.Context, ip string) (bool, error) {
	n, err := c.rdb.Exists(ctx, blockKey(ip)).Result()
	if err != nil {
		return false, fmt.Errorf("checking ip block: %w", err)
	}
	return n == 1, nil
}

// Block marks ip blocked for ttl. SETNX keeps the block window fixed:
// a second Block during a live entry is a no-op.
func (c *RedisBlockCache) Block(ctx context.Context, ip string, ttl time.Duration) error {
	if err := c.rdb.SetNX(ctx, blockKey(ip), 1, ttl).Err(); err != nil {
		return fmt.Errorf("setting ip block: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (c *RedisBlockCache) CheckHealth(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// --- Rate limiter ---

// rateLimitScript counts hits in a fixed window and sets a lockout key once
// the count passes the max. Returns 1 when allowed, 0 when locked out.
// KEYS[1] counter, KEYS[2] lockout; ARGV[1] max, ARGV[2] window ms, ARGV[3] lockout ms.
var rateLimitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return 0
end
return 1
`)

// RedisRateLimiter enforces RateLimit policies with a single round-trip Lua script.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps an existing client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records one hit for key and returns ErrRateLimitExceeded when the
// caller is over policy. Any other error is a Redis failure.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	res, err := rateLimitScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key, "lockout:" + key},
		policy.MaxAttempts,
		policy.Window.Milliseconds(),
		policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("running rate limit script: %w", err)
	}
	if res == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
