package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/gosight/gosight/signals/internal/config"
)

// ResultCache stores computed query results in Redis as JSON
type ResultCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewResultCache creates a result cache on its own Redis connection
func NewResultCache(redisCfg config.RedisConfig, ttl time.Duration) *ResultCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	return NewResultCacheWithClient(rdb, ttl)
}

func NewResultCacheWithClient(rdb *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{redis: rdb, ttl: ttl}
}

// Get decodes the cached value for key into dst. A missing key is a miss,
// not an error.
func (c *ResultCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if c == nil || c.redis == nil {
		return false, nil
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		// Undecodable entries count as misses
		return false, nil
	}
	return true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, v interface{}) error {
	if c == nil || c.redis == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *ResultCache) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *ResultCache) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
