// Package cache provides small cache-aside building blocks with explicit
// lifecycle: construct once, read through Get, fill with Set, drop with Clear.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a keyed store whose entries expire after a fixed TTL.
// Implementations must be safe for concurrent use. A miss is never an error.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
	Clear(ctx context.Context)
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe in-memory cache with per-entry expiry.
type TTLCache[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]ttlEntry[V]
}

// Option configures a TTLCache.
type Option[V any] func(*TTLCache[V])

// WithClock overrides the time source, mainly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTLCache[V]) {
		c.now = now
	}
}

// NewTTLCache creates an in-memory cache whose entries live for ttl.
// The ttl must be positive, otherwise it panics.
func NewTTLCache[V any](ttl time.Duration, opts ...Option[V]) *TTLCache[V] {
	if ttl <= 0 {
		panic("cache ttl must be positive")
	}
	c := &TTLCache[V]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]ttlEntry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value if present and not expired.
// Expired entries are removed lazily.
func (c *TTLCache[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key for the cache TTL.
func (c *TTLCache[V]) Set(_ context.Context, key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]ttlEntry[V])
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
