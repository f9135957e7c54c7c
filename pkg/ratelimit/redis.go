package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter shares fixed-window counters across gateway replicas. The
// window start is baked into the key, so alignment survives the shared store.
// Any Redis failure falls back to the in-process limiter.
type RedisLimiter struct {
	Client   *redis.Client
	Window   time.Duration
	Prefix   string
	Fallback *InMemoryLimiter

	now func() time.Time
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Window:   window,
		Prefix:   "rl:",
		Fallback: NewInMemory(window),
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	if l.Client == nil {
		return l.fallback(key, limit)
	}
	now := l.now().UTC()
	windowStart := now.Truncate(l.Window)
	resetAt := windowStart.Add(l.Window)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, key, windowStart.Unix())
	ttlMs := (l.Window + 5*time.Second).Milliseconds()
	res, err := rateLimitScript.Run(ctx, l.Client, []string{redisKey}, ttlMs).Int64()
	if err != nil {
		return l.fallback(key, limit)
	}
	return decide(int(res), limit, resetAt, now)
}

func (l *RedisLimiter) fallback(key string, limit int) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(key, limit)
	}
	now := l.now().UTC()
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Truncate(l.Window).Add(l.Window)}
}
