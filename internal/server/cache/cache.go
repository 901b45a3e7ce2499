// Package cache keeps read-mostly API responses (drift summaries, mismatch
// listings) in memory until the next run finishes or the TTL expires.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache wraps go-cache for HTTP response caching.
type Cache struct {
	store *gocache.Cache
}

// New creates a new cache with the given TTL and cleanup interval.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores a value in the cache with default TTL.
func (c *Cache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Errors are not cached.
func (c *Cache) GetOrLoad(key string, load func() (any, error)) (any, bool, error) {
	if v, ok := c.store.Get(key); ok {
		return v, true, nil
	}
	v, err := load()
	if err != nil {
		return nil, false, err
	}
	c.store.Set(key, v, gocache.DefaultExpiration)
	return v, false, nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// Clear removes all items from the cache.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of items in the cache.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}
