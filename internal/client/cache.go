package client

import (
	"context"
	"sync"
	"time"
)

// DefaultStaleTime is how long a cached response is served without refetching.
const DefaultStaleTime = 60 * time.Second

type cacheEntry struct {
	key      Key
	value    any
	storedAt time.Time
}

// Cache holds decoded responses keyed by hierarchical keys.
type Cache struct {
	staleTime time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache whose entries go stale after staleTime.
func NewCache(staleTime time.Duration) *Cache {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	return &Cache{
		staleTime: staleTime,
		now:       time.Now,
		entries:   make(map[string]cacheEntry),
	}
}

// Get returns the value stored under key if it is still fresh.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok || c.now().Sub(e.storedAt) >= c.staleTime {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = cacheEntry{key: key, value: value, storedAt: c.now()}
}

// Invalidate drops every entry whose key starts with prefix and returns how
// many were removed.
func (c *Cache) Invalidate(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for s, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, s)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cached serves key from c or stores the result of fetch under it.
func cached[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	if c != nil {
		if v, ok := c.Get(key); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		c.Set(key, v)
	}
	return v, nil
}
