package ratelimit

import (
	"sync"
	"time"
)

type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// sweepInterval bounds how often Allow walks the whole bucket map, so the
// sweep cost is amortized across calls instead of paid on every request.
const sweepInterval = 5 * time.Second

// InMemoryLimiter counts hits per key in fixed windows aligned to the epoch.
// Expired buckets are swept opportunistically, at most once per interval.
type InMemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	items   map[string]entry
	now     func() time.Time
	sweptAt time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window: window,
		items:  make(map[string]entry),
		now:    time.Now,
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()
	resetAt := now.Truncate(l.window).Add(l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)
	curr, ok := l.items[key]
	if !ok || !curr.resetAt.Equal(resetAt) {
		curr = entry{resetAt: resetAt}
	}
	curr.count++
	l.items[key] = curr
	return decide(curr.count, limit, resetAt, now)
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	if now.Sub(l.sweptAt) < sweepInterval {
		return
	}
	l.sweptAt = now
	for k, v := range l.items {
		if now.After(v.resetAt.Add(5 * time.Second)) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt, now time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		secs := int(resetAt.Sub(now).Seconds())
		if resetAt.Sub(now)%time.Second != 0 {
			secs++
		}
		if secs < 1 {
			secs = 1
		}
		d.RetryAfter = secs
	}
	return d
}
