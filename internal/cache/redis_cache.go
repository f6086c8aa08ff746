// Package cache keeps folded projections in Redis, keyed by the log
// snapshot they were built from.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dctledger/internal/dct"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "dct:projection:"
	defaultGeneration = "dct:projection-generation"
)

// RedisCache stores projections under "<prefix><generation>:<take>:<head>".
// Invalidate bumps the generation, so an entry written from a fold that
// raced an append lands under a key no reader asks for again.
type RedisCache struct {
	client *redis.Client
	prefix string
	genKey string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: defaultPrefix, genKey: defaultGeneration, ttl: ttl}
}

// Key names the projection of the first take dct events at log head, as
// folded during cache generation gen.
func Key(gen int64, take int, head int64) string {
	return fmt.Sprintf("%d:%d:%d", gen, take, head)
}

// Generation returns the current invalidation generation. Read it before
// the log head so a later Invalidate always changes the key.
func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns the cached projection for k. ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, k string) (dct.Projection, bool, error) {
	raw, err := c.client.Get(ctx, c.key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dct.Projection{}, false, nil
	}
	if err != nil {
		return dct.Projection{}, false, fmt.Errorf("get cached projection: %w", err)
	}

	var p dct.Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return dct.Projection{}, false, fmt.Errorf("unmarshal cached projection: %w", err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k string, p dct.Projection) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal projection: %w", err)
	}
	if err := c.client.Set(ctx, c.key(k), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache projection: %w", err)
	}
	return nil
}

// Invalidate moves to a new generation and drops every cached projection.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.genKey).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan cached projections: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cached projections: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
