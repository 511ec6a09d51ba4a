package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"

	"github.com/redis/go-redis/v9"
)

// AccessProfile is the cached authorization snapshot for one user: the role
// plus the entitlement row (nil when the user has none yet).
type AccessProfile struct {
	Role        domain.Role         `json:"role"`
	Entitlement *domain.Entitlement `json:"entitlement,omitempty"`
}

// AccessProfileCache is a read-through cache of access profiles keyed by
// user ID. A nil Redis client degrades to pass-through.
type AccessProfileCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewAccessProfileCache(client redis.UniversalClient, ttl time.Duration) *AccessProfileCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AccessProfileCache{client: client, prefix: "access_profile", ttl: ttl}
}

func (c *AccessProfileCache) key(userID string) string { return c.prefix + ":" + userID }

func (c *AccessProfileCache) Get(ctx context.Context, userID string) (*AccessProfile, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		return nil, false
	}
	var p AccessProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *AccessProfileCache) Set(ctx context.Context, userID string, p *AccessProfile) {
	if c.client == nil || p == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	// Cache write failures are swallowed; the next read falls through to the
	// database.
	_ = c.client.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

func (c *AccessProfileCache) Invalidate(ctx context.Context, userID string) {
	if c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.key(userID)).Err()
}
