package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter: at most limit hits per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// RedisLimiter counts hits with INCR and arms the window TTL on the first
// hit. Counts are shared across instances.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter { return &RedisLimiter{rdb: rdb} }

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return Decision{}, err
		}
	}
	if n > int64(limit) {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: limit - int(n)}, nil
}

// MemoryLimiter is the in-process fallback used in tests and when Redis is
// not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*memoryWindow)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		l.windows[key] = w
	}
	w.count++
	if w.count > limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: time.Until(w.resetAt)}, nil
	}
	return Decision{Allowed: true, Remaining: limit - w.count}, nil
}
