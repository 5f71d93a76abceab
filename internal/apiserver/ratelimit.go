package apiserver

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a sliding-window request cap per key (global and
// per-tenant keys share the same mechanism with different thresholds).
//
// Unlike pkg/auth/ratelimit.go's fail-open-on-nil-store behavior, this
// limiter fails closed on any internal error: rate limiting sits alongside
// this server's other access-control gates (auth, tenancy), both of which
// are fail-closed, and a fail-open limiter would be the one exception.
type RateLimiter interface {
	Allow(ctx context.Context, key string, windowMs, maxRequests int) (bool, error)
}

// MemoryRateLimiter is the default in-memory sliding-window implementation.
type MemoryRateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryRateLimiter constructs an empty limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{events: map[string][]time.Time{}}
}

// Allow records one hit for key and reports whether it falls within the
// window's request cap.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string, windowMs, maxRequests int) (bool, error) {
	if maxRequests <= 0 {
		return true, nil
	}
	now := time.Now()
	cutoff := now.Add(-time.Duration(windowMs) * time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.events[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxRequests {
		l.events[key] = kept
		return false, nil
	}
	l.events[key] = append(kept, now)
	return true, nil
}

// RedisRateLimiter is the additive §4.15 distributed backend: a Lua
// sliding-window counter implemented over a sorted set, grounded on
// pkg/kernel/limiter_redis.go's Lua-script token bucket.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter wraps an existing redis client.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window_ms)
local count = redis.call('ZCARD', key)
if count >= max_requests then
	return 0
end
redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window_ms)
return 1
`)

// Allow evaluates the sliding-window script against key.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, windowMs, maxRequests int) (bool, error) {
	if maxRequests <= 0 {
		return true, nil
	}
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{key}, now, windowMs, maxRequests).Int()
	if err != nil {
		// Fail closed: an unreachable rate-limit backend must not silently
		// admit unlimited traffic.
		return false, err
	}
	return res == 1, nil
}
