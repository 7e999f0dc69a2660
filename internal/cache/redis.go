package cache

import (
	"context"
	"time"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis so several instances share cached values
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to Redis").
			WithReportableDetails(map[string]any{"address": cfg.Address}).
			Mark(ierr.ErrDependency)
	}

	return NewRedisCacheWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheWithClient creates a cache with an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix != "" {
		keyPrefix += ":"
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value from the cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	span := StartCacheSpan(ctx, "redis", "get", map[string]interface{}{"key": key})
	defer FinishSpan(span)

	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ierr.WithError(err).
			WithHint("Failed to read from cache").
			Mark(ierr.ErrDependency)
	}
	return b, true, nil
}

// Set adds a value to the cache with the specified expiration
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	span := StartCacheSpan(ctx, "redis", "set", map[string]interface{}{"key": key})
	defer FinishSpan(span)

	if expiration == NoExpiration {
		expiration = 0
	}
	if err := c.client.Set(ctx, c.key(key), value, expiration).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write to cache").
			Mark(ierr.ErrDependency)
	}
	return nil
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete from cache").
			Mark(ierr.ErrDependency)
	}
	return nil
}

// Keys lists all keys with the given prefix, without the instance key prefix
func (c *RedisCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	span := StartCacheSpan(ctx, "redis", "keys", map[string]interface{}{"prefix": prefix})
	defer FinishSpan(span)

	var keys []string
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(c.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list cache keys").
			Mark(ierr.ErrDependency)
	}
	return keys, nil
}

// DeleteByPrefix removes all keys with the given prefix
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := c.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete from cache").
			Mark(ierr.ErrDependency)
	}
	return nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
