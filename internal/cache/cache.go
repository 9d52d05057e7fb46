package cache

import (
	"context"
	"sync"
	"time"
)

type CacheItem[V any] struct {
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the item is still valid at now.
func (i CacheItem[V]) Fresh(now time.Time) bool {
	return now.Before(i.ExpiresAt)
}

// Age is the time elapsed since the item was stored.
func (i CacheItem[V]) Age(now time.Time) time.Duration {
	return now.Sub(i.StoredAt)
}

// Cache is a TTL map. Expired entries are invisible to Get and removed by
// Cleanup.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]CacheItem[V]
	ttl   time.Duration
	now   func() time.Time
}

// New returns a cache whose entries live for ttl unless Set says otherwise.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]CacheItem[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores value with the default TTL.
func (c *Cache[V]) Put(key string, value V) {
	c.Set(key, value, c.ttl)
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = CacheItem[V]{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	item, ok := c.Entry(key)
	return item.Value, ok
}

// Entry returns the whole item when it is still fresh.
func (c *Cache[V]) Entry(key string) (CacheItem[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || !item.Fresh(c.now()) {
		return CacheItem[V]{}, false
	}
	return item, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len counts stored entries, expired ones included until Cleanup.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.items {
		if !item.Fresh(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (c *Cache[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}
