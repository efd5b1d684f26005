package cache

import (
	"context"
	"sync"
	"time"
)

// cachedEntry wraps a value with its expiry.
type cachedEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a small in-process cache with a fixed time-to-live per entry.
// It is constructed once and handed to the components that use it, so TTL
// and invalidation stay explicit at the call site.
type TTL[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]cachedEntry[V]
	ttl   time.Duration
	now   func() time.Time
}

// NewTTL creates a cache whose entries live for ttl. A ttl of zero or less
// disables caching: Set is a no-op and Get always misses.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		items: make(map[K]cachedEntry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the time source (for testing).
func (c *TTL[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the cached value for key if present and unexpired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *TTL[K, V]) Set(key K, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = cachedEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete invalidates key.
func (c *TTL[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *TTL[K, V]) Cleanup() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// StartCleanup periodically removes expired entries until ctx is done.
func (c *TTL[K, V]) StartCleanup(ctx context.Context, interval time.Duration) {
	if c == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
