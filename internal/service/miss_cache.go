package service

import (
	"context"
	"sync"
	"time"
)

// MissCache remembers token hashes that recently failed validation, so a
// burst of requests carrying a dead cookie stops reaching the session store.
// Entries expire on their own; access tokens are random and a rejected value
// can never become valid later.
type MissCache interface {
	Seen(ctx context.Context, hash string) (bool, error)
	Remember(ctx context.Context, hash string, ttl time.Duration) error
}

type NoopMissCache struct{}

func (NoopMissCache) Seen(context.Context, string) (bool, error)            { return false, nil }
func (NoopMissCache) Remember(context.Context, string, time.Duration) error { return nil }

// InMemoryMissCache is the single-process default. Expired entries are
// dropped lazily on read.
type InMemoryMissCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewInMemoryMissCache() *InMemoryMissCache {
	return &InMemoryMissCache{entries: make(map[string]time.Time)}
}

func (c *InMemoryMissCache) Seen(_ context.Context, hash string) (bool, error) {
	c.mu.RLock()
	expiresAt, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryMissCache) Remember(_ context.Context, hash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[hash] = time.Now().Add(ttl)
	c.mu.Unlock()
	return nil
}
