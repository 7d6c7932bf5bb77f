// Package cache provides a small response cache for LLM outputs.
//
// Classification results (intent, handoff decisions) for identical inputs are
// stable, so caching them avoids repeated model calls. Two backends are
// provided: an in-process TTL map and Redis for multi-instance deployments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the cache entry lifetime used when callers pass zero.
const DefaultTTL = 15 * time.Minute

// ResponseCache stores LLM responses keyed by prompt. Get reports a miss with
// found=false; errors are reserved for backend failures.
type ResponseCache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// Key derives a stable cache key from a prompt kind and its input text.
func Key(kind, input string) string {
	sum := sha256.Sum256([]byte(input))
	return "zapatende:llm:" + kind + ":" + hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process ResponseCache with per-entry TTL. Expired
// entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get retrieves a cached value, dropping it when expired.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with the given TTL, falling back to DefaultTTL.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Close releases the cache contents.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// RedisCache is a ResponseCache backed by Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to Redis at addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("NewRedisCache: failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("RedisCache.Get: %w", err)
	}
	return value, true, nil
}

// Set stores a value in Redis with the given TTL, falling back to DefaultTTL.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("RedisCache.Set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
