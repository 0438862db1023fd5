package exchangerate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// Cache stores rate tables keyed by base currency.
	Cache interface {
		// Get returns the table and true when present and not expired.
		Get(ctx context.Context, key string) (map[string]float64, bool, error)
		// Set stores the table for ttl.
		Set(ctx context.Context, key string, rates map[string]float64, ttl time.Duration) error
	}

	// MemoryCache is a process-local Cache.
	MemoryCache struct {
		mu      sync.RWMutex
		entries map[string]cacheEntry
		now     func() time.Time
	}

	cacheEntry struct {
		rates     map[string]float64
		expiresAt time.Time
	}

	// RedisCache shares rate tables between replicas through Redis.
	RedisCache struct {
		rdb    *redis.Client
		prefix string
	}
)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get retrieves a table. Expired entries are removed.
func (c *MemoryCache) Get(_ context.Context, key string) (map[string]float64, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.rates, true, nil
}

// Set stores a table with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, rates map[string]float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{rates: rates, expiresAt: c.now().Add(ttl)}
	return nil
}

// NewRedisCache returns a cache storing tables as JSON strings under
// prefix+key.
func NewRedisCache(rdb *redis.Client, prefix string) (*RedisCache, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "tripcrew:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}, nil
}

// Get retrieves a table.
func (c *RedisCache) Get(ctx context.Context, key string) (map[string]float64, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get rate table: %w", err)
	}
	var rates map[string]float64
	if err := json.Unmarshal(raw, &rates); err != nil {
		return nil, false, fmt.Errorf("decode rate table: %w", err)
	}
	return rates, true, nil
}

// Set stores a table with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, rates map[string]float64, ttl time.Duration) error {
	raw, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("encode rate table: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store rate table: %w", err)
	}
	return nil
}
