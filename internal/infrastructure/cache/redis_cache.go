package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

const defaultRedisPrefix = "cadsmith:program:"

// RedisCache keeps entries as JSON strings with a TTL. A sorted set indexed
// by creation time bounds the number of entries.
type RedisCache struct {
	client     *backend.Client
	prefix     string
	ttl        time.Duration
	maxEntries int
}

type RedisOption func(*RedisCache)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache connects to addr lazily; the first command dials.
func NewRedisCache(addr string, db int, maxEntries int, ttl time.Duration, opts ...RedisOption) *RedisCache {
	client := backend.NewClient(&backend.Options{Addr: addr, DB: db})
	return NewRedisCacheFromClient(client, maxEntries, ttl, opts...)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *backend.Client, maxEntries int, ttl time.Duration, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client:     client,
		prefix:     defaultRedisPrefix,
		ttl:        ttl,
		maxEntries: maxEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) indexKey() string { return c.prefix + "index" }

// Get retrieves a cache entry.
func (c *RedisCache) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	if key == "" {
		return domain.CacheEntry{}, false, nil
	}
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

// Set stores an entry and trims the oldest ones beyond maxEntries.
func (c *RedisCache) Set(ctx context.Context, entry domain.CacheEntry) error {
	if entry.Key == "" {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(entry.Key), data, c.ttl)
	pipe.ZAdd(ctx, c.indexKey(), backend.Z{
		Score:  float64(entry.CreatedAt.UnixNano()),
		Member: entry.Key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return c.evictIfNeeded(ctx)
}

// Entries lists live entries, newest first. Index members whose key already
// expired are dropped from the index.
func (c *RedisCache) Entries(ctx context.Context) ([]domain.CacheEntry, error) {
	keys, err := c.client.ZRevRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index: %w", err)
	}
	var entries []domain.CacheEntry
	var stale []interface{}
	for _, k := range keys {
		entry, ok, err := c.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			stale = append(stale, k)
			continue
		}
		entries = append(entries, entry)
	}
	if len(stale) > 0 {
		_ = c.client.ZRem(ctx, c.indexKey(), stale...).Err()
	}
	return entries, nil
}

// Clear removes every entry under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.client.ZRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis index: %w", err)
	}
	del := []string{c.indexKey()}
	for _, k := range keys {
		del = append(del, c.key(k))
	}
	return c.client.Del(ctx, del...).Err()
}

// Available pings the server.
func (c *RedisCache) Available(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) evictIfNeeded(ctx context.Context) error {
	if c.maxEntries <= 0 {
		return nil
	}
	n, err := c.client.ZCard(ctx, c.indexKey()).Result()
	if err != nil || n <= int64(c.maxEntries) {
		return err
	}
	excess := n - int64(c.maxEntries)
	old, err := c.client.ZRange(ctx, c.indexKey(), 0, excess-1).Result()
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	for _, k := range old {
		pipe.Del(ctx, c.key(k))
		pipe.ZRem(ctx, c.indexKey(), k)
	}
	_, err = pipe.Exec(ctx)
	return err
}

var _ ports.CacheRepository = (*RedisCache)(nil)
