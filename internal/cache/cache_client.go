package cache

import (
	"sync"
	"time"
)

// Cache defines the interface for TTL caching operations.
type Cache[V any] interface {
	// Get retrieves a live value from the cache.
	Get(key string) (V, bool)

	// Set stores a value with an optional TTL; zero uses the configured default.
	Set(key string, value V, ttl time.Duration)

	// Delete removes a value from the cache.
	Delete(key string)

	// Keys returns the keys of all live entries.
	Keys() []string

	// Clear removes all values from the cache.
	Clear()
}

// CacheConfig holds configuration for the cache.
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`      // default TTL
	MaxSize int           `mapstructure:"max_size"` // entries kept before expired items are swept; 0 means unbounded
}

// MemoryCache implements an in-memory TTL cache. It is safe for concurrent use.
type MemoryCache[V any] struct {
	config CacheConfig
	now    func() time.Time

	mu   sync.Mutex
	data map[string]*cacheItem[V]
}

type cacheItem[V any] struct {
	Value       V
	ExpiresAt   time.Time
	CreatedAt   time.Time
	AccessCount int64
}

// Option configures a MemoryCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewMemoryCache creates a new in-memory cache instance.
func NewMemoryCache[V any](config CacheConfig, opts ...Option) *MemoryCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryCache[V]{
		config: config,
		now:    o.now,
		data:   make(map[string]*cacheItem[V]),
	}
}

// Get retrieves a value from the memory cache.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.data[key]
	if !exists {
		return zero, false
	}

	if c.expired(item, c.now()) {
		delete(c.data, key)
		return zero, false
	}

	item.AccessCount++
	return item.Value, true
}

// Set stores a value in the memory cache.
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.config.TTL
	}

	now := c.now()
	item := &cacheItem[V]{
		Value:     value,
		CreatedAt: now,
	}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = item
	if c.config.MaxSize > 0 && len(c.data) > c.config.MaxSize {
		c.cleanupLocked(now)
	}
}

// Delete removes a value from the memory cache.
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Keys returns the keys of all live entries.
func (c *MemoryCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.data))
	for key, item := range c.data {
		if c.expired(item, now) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Clear removes all values from the memory cache.
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	c.data = make(map[string]*cacheItem[V])
	c.mu.Unlock()
}

// Cleanup removes expired items from the cache.
func (c *MemoryCache[V]) Cleanup() {
	c.mu.Lock()
	c.cleanupLocked(c.now())
	c.mu.Unlock()
}

func (c *MemoryCache[V]) cleanupLocked(now time.Time) {
	for key, item := range c.data {
		if c.expired(item, now) {
			delete(c.data, key)
		}
	}
}

// expired reports whether item is past its deadline. Items without one never expire.
func (c *MemoryCache[V]) expired(item *cacheItem[V], now time.Time) bool {
	return !item.ExpiresAt.IsZero() && now.After(item.ExpiresAt)
}

// GetStats returns cache statistics.
func (c *MemoryCache[V]) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for _, item := range c.data {
		if c.expired(item, now) {
			expired++
		}
	}

	return map[string]interface{}{
		"total_items":    len(c.data),
		"expired_items":  expired,
		"active_items":   len(c.data) - expired,
		"max_size":       c.config.MaxSize,
		"cleanup_needed": expired > 0,
	}
}
