package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a TTLCache backed by a shared Redis instance, letting cached
// state (the permission verifier's status) survive process restarts and be shared across replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps client, namespacing every key under prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) namespaced(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Set stores value under key with ttl.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.namespaced(key), value, ttl).Err()
}

// Get returns the value for key, or ok=false on redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.namespaced(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
