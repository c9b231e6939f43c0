// Package cache provides a small JSON cache over Redis with an
// in-memory fallback for development and tests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is the subset of Redis operations the cache needs.
// db.RedisClient satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache reads through Redis when a backend is configured and keeps a
// bounded in-memory map otherwise. Backend errors degrade to memory
// rather than failing the caller.
type Cache struct {
	backend    Backend
	defaultTTL time.Duration

	mu       sync.RWMutex
	mem      map[string]memEntry
	maxItems int

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// New creates a cache. backend may be nil.
func New(backend Backend, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &Cache{
		backend:    backend,
		defaultTTL: defaultTTL,
		mem:        make(map[string]memEntry),
		maxItems:   10000,
	}
}

// Get retrieves raw bytes for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.backend != nil {
		if val, err := c.backend.Get(ctx, key); err == nil {
			c.recordHit()
			return []byte(val), nil
		}
	}

	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.mem, key)
			c.mu.Unlock()
		}
		c.recordMiss()
		return nil, ErrMiss
	}

	c.recordHit()
	return entry.value, nil
}

// Set stores raw bytes under key. ttl <= 0 uses the default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if c.backend != nil {
		if err := c.backend.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mem) >= c.maxItems {
		c.evictLocked()
	}
	c.mem[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.backend != nil {
		c.backend.Del(ctx, key)
	}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
}

// GetJSON unmarshals a cached JSON value into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals value and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSetJSON reads key into dest, calling loader and caching its
// result on a miss. Loader errors are returned without caching.
func (c *Cache) GetOrSetJSON(ctx context.Context, key string, ttl time.Duration, dest interface{}, loader func() (interface{}, error)) error {
	if err := c.GetJSON(ctx, key, dest); err == nil {
		return nil
	}

	value, err := loader()
	if err != nil {
		return err
	}
	if err := c.SetJSON(ctx, key, value, ttl); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Stats reports hit/miss counters and the fallback map size.
func (c *Cache) Stats() (hits, misses int64, memItems int) {
	c.statsMu.Lock()
	hits, misses = c.hits, c.misses
	c.statsMu.Unlock()

	c.mu.RLock()
	memItems = len(c.mem)
	c.mu.RUnlock()
	return
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

// evictLocked drops expired entries, then arbitrary ones until 10% of
// capacity is free. Caller holds mu.
func (c *Cache) evictLocked() {
	target := c.maxItems / 10
	if target < 1 {
		target = 1
	}

	now := time.Now()
	evicted := 0
	for key, entry := range c.mem {
		if evicted >= target {
			return
		}
		if now.After(entry.expiresAt) {
			delete(c.mem, key)
			evicted++
		}
	}
	for key := range c.mem {
		if evicted >= target {
			return
		}
		delete(c.mem, key)
		evicted++
	}
}

// Key builders. Keeping them here avoids drift between writers and
// invalidators.

// UsageKey is the plan usage summary for an organization.
func UsageKey(orgID uint) string {
	return fmt.Sprintf("usage:org:%d", orgID)
}

// BalanceKey is the credit balance for an organization.
func BalanceKey(orgID uint) string {
	return fmt.Sprintf("credits:org:%d", orgID)
}

// ReviewsKey is a fetched app review page.
func ReviewsKey(store, appID string) string {
	return fmt.Sprintf("reviews:%s:%s", store, appID)
}
