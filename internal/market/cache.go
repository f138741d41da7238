package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedPrice is the last successfully fetched price of an instrument.
type CachedPrice struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Cache remembers last good prices so a failed fetch can fall back to a stale value.
type Cache interface {
	Get(ctx context.Context, instrument string) (CachedPrice, bool, error)
	Set(ctx context.Context, instrument string, price CachedPrice) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]CachedPrice
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]CachedPrice)}
}

// Get returns the cached price for instrument.
func (c *MemoryCache) Get(_ context.Context, instrument string) (CachedPrice, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[instrument]
	return p, ok, nil
}

// Set stores price for instrument.
func (c *MemoryCache) Set(_ context.Context, instrument string, price CachedPrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[instrument] = price
	return nil
}

const redisKeyPrefix = "marketpulse:price:"

// Compile-time checks
var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

// RedisCache shares last good prices across restarts and between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. Entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached price for instrument. A missing or expired key is not an error.
func (c *RedisCache) Get(ctx context.Context, instrument string) (CachedPrice, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+instrument).Result()
	if errors.Is(err, redis.Nil) {
		return CachedPrice{}, false, nil
	}
	if err != nil {
		return CachedPrice{}, false, fmt.Errorf("failed to read cached price: %w", err)
	}

	var p CachedPrice
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return CachedPrice{}, false, fmt.Errorf("corrupt cached price for %s: %w", instrument, err)
	}
	return p, true, nil
}

// Set stores price for instrument with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, instrument string, price CachedPrice) error {
	payload, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+instrument, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache price: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
