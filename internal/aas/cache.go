package aas

import (
	"sync"
	"time"
)

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a small generic TTL-memoizing map, guarded by a single mutex.
// The behavior tree's AAS provider uses one at a 300s TTL; the interface
// cache uses one with no expiry for schema documents fetched by URL. The
// interface cache's own AAS submodel reads go through no TTL cache.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
}

// NewCache returns an empty cache with the given TTL. A TTL of zero or less
// means entries never expire.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{entries: make(map[string]cacheEntry[T]), ttl: ttl}
}

// GetOrLoad returns the cached value for key if present and unexpired,
// otherwise calls load, stores, and returns its result.
func (c *Cache[T]) GetOrLoad(key string, load func() (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && (c.ttl <= 0 || time.Now().Before(e.expiresAt)) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry[T]{value: v, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops a single key from the cache.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the cache.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[T])
}
