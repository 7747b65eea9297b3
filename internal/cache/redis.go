package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares cached values between processes through Redis.
// Values are JSON encoded under prefix+key. Redis failures are logged and
// reported as misses so callers fall through to the backing store.
type RedisCache[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a Redis-backed cache. The ttl must be positive.
func NewRedisCache[V any](client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache[V] {
	if ttl <= 0 {
		panic("cache ttl must be positive")
	}
	return &RedisCache[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the decoded value stored under key.
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache get failed", "key", key, "error", err)
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("redis cache entry undecodable", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Set stores value under key for the cache TTL.
func (c *RedisCache[V]) Set(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Clear deletes every key under the cache prefix.
func (c *RedisCache[V]) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("redis cache scan failed", "prefix", c.prefix, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("redis cache clear failed", "prefix", c.prefix, "error", err)
	}
}
