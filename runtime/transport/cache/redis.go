package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// RedisCache is a Redis-backed Cache so history pages are shared across
// worker processes. Entries are stored as JSON with Redis-native expiry.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a Redis-backed cache on an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a cached page. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]*messaging.DbMessage, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("history cache get %q: %w", key, err)
	}
	var page []*messaging.DbMessage
	if err := json.Unmarshal(raw, &page); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return page, nil
}

// Set stores a page with the given TTL. A non-positive TTL is a no-op.
func (c *RedisCache) Set(ctx context.Context, key string, page []*messaging.DbMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("history cache marshal %q: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("history cache set %q: %w", key, err)
	}
	return nil
}

// Invalidate removes every entry whose key starts with prefix, scanning
// rather than KEYS so production keyspaces stay responsive.
func (c *RedisCache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("history cache invalidate %q: %w", prefix, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("history cache invalidate %q: %w", prefix, err)
	}
	return nil
}
