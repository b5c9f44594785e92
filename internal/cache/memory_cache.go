package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// sweepFloor is the entry count at which writes start sweeping expired keys.
const sweepFloor = 1024

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero: no expiry
}

// MemoryCache is an in-process store with the same TTL semantics as RedisCache.
// Values are kept JSON-encoded so callers never share mutable state.
// Expired entries are dropped when read and swept on write once the map
// reaches nextSweep entries, so keys that are never read again do not pile up.
type MemoryCache struct {
	mu        sync.RWMutex
	items     map[string]memEntry
	now       func() time.Time
	nextSweep int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memEntry), now: time.Now, nextSweep: sweepFloor}
}

func (c *MemoryCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.value, dst); err != nil {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *MemoryCache) SetJSON(_ context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	e := memEntry{value: b}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	if len(c.items) >= c.nextSweep {
		c.sweepLocked()
	}
	c.mu.Unlock()
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// sweepLocked doubles the threshold relative to what survives, which keeps
// sweeping amortised O(1) per write.
func (c *MemoryCache) sweepLocked() int {
	now := c.now()
	removed := 0
	for k, e := range c.items {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	c.nextSweep = 2 * len(c.items)
	if c.nextSweep < sweepFloor {
		c.nextSweep = sweepFloor
	}
	return removed
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

// Len reports stored entries, expired ones included until they are read or swept.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
