package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// processingMarker is cached while a comparison runs.
	processingMarker = "processing"
	processingTTL    = time.Minute
	resultTTL        = 5 * time.Minute
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache keeps comparison summaries in Redis, every key under one namespace.
type RedisCache struct {
	client    redis.Cmdable
	namespace string
}

// NewRedisCache wraps a go-redis client (or cluster client) in the "facecompare" namespace.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, namespace: "facecompare"}
}

func (c *RedisCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, expiration).Err()
}

// Get returns redis.Nil for missing keys.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.key(key)).Result()
}

func cacheKey(requestID string) string {
	return "comparison:" + requestID
}
