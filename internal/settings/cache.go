package settings

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "setting"

// RedisCache implements Cache over Redis with a fixed key prefix.
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache creates a Redis-backed settings cache.
func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, cachePrefix+":"+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errCacheMiss
		}
		return "", err
	}
	return v, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, cachePrefix+":"+key, value, ttl).Err()
}

// Clear removes all cached settings using SCAN, which does not block the
// server the way KEYS would.
func (c *RedisCache) Clear(ctx context.Context) error {
	pattern := cachePrefix + ":*"
	var cursor uint64

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

var _ Cache = (*RedisCache)(nil)
