// Package ttlcache is an in-process key/value cache whose entries expire after
// a per-entry time to live. Keys live in named scopes so unrelated callers can
// share one cache without colliding.
package ttlcache

import (
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is safe for concurrent use
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// New creates an empty cache. now may be nil, in which case time.Now is used.
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		items: make(map[string]entry),
		now:   now,
	}
}

// Get returns the value stored under key if it has not expired
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// re-check, a concurrent Set may have replaced it
		if cur, ok := c.items[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Sweep drops every expired entry and returns how many were removed
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Scope returns a view of the cache whose keys are prefixed with name
func (c *Cache) Scope(name string) *Scoped {
	return &Scoped{cache: c, prefix: name + ":"}
}

// Scoped is a namespaced view over a Cache
type Scoped struct {
	cache  *Cache
	prefix string
}

func (s *Scoped) Get(key string) (interface{}, bool) {
	return s.cache.Get(s.prefix + key)
}

func (s *Scoped) Set(key string, value interface{}, ttl time.Duration) {
	s.cache.Set(s.prefix+key, value, ttl)
}

func (s *Scoped) Delete(key string) {
	s.cache.Delete(s.prefix + key)
}
