package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMissCache shares rejected-token state across instances.
type RedisMissCache struct {
	client redis.UniversalClient
}

func NewRedisMissCache(client redis.UniversalClient) *RedisMissCache {
	return &RedisMissCache{client: client}
}

func (c *RedisMissCache) key(hash string) string { return "auth:miss:" + hash }

func (c *RedisMissCache) Seen(ctx context.Context, hash string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(hash)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisMissCache) Remember(ctx context.Context, hash string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(hash), "1", ttl).Err()
}
