// Package cache wraps redis for the read-side caches that speed up list
// queries, plus the request rate limiter. All cache errors are swallowed:
// a failing redis only costs cache hits, never a request.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache TTLs.
const (
	TTLShort  = time.Minute
	TTLMedium = 5 * time.Minute
	TTLLong   = time.Hour
	TTLDay    = 24 * time.Hour
)

type Cache struct {
	rdb *redis.Client
	log *log.Logger
}

func NewCache(rdb *redis.Client, logger *log.Logger) *Cache {
	return &Cache{rdb: rdb, log: logger}
}

// Key builds a namespaced cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get unmarshals the cached value into dest and reports whether it was a
// hit.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Println("cache get:", err)
		}
		return false
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.log.Println("cache unmarshal:", err)
		return false
	}

	return true
}

// Set stores the value as JSON with the given TTL; zero means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Println("cache marshal:", err)
		return
	}

	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Println("cache set:", err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Println("cache delete:", err)
	}
}

// DeletePattern removes every key matching the pattern.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		c.log.Println("cache delete pattern:", err)
		return
	}

	if len(keys) > 0 {
		c.Delete(ctx, keys...)
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
