package models

import (
	"sync"
	"time"
)

// Clock provides the current time for cache expiry.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// DefaultTTL is the model cache lifetime when none is configured.
const DefaultTTL = 30 * time.Second

type cached struct {
	value     string
	expiresAt time.Time
}

// TTLCache maps keys to strings until each entry expires. There is no other
// invalidation.
type TTLCache struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	entries map[string]cached
}

// NewTTLCache creates a cache whose entries live for ttl.
func NewTTLCache(clock Clock, ttl time.Duration) *TTLCache {
	if clock == nil {
		clock = realClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache{clock: clock, ttl: ttl, entries: map[string]cached{}}
}

// Get returns the live value for key.
func (c *TTLCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Put stores value for key.
func (c *TTLCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cached{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cache groups the resolver's caches: (user id, tier) to model id, tier to
// model id, and model id to slug.
type Cache struct {
	Users *TTLCache
	Tiers *TTLCache
	Slugs *TTLCache
}

// NewCache creates the three resolver caches sharing one ttl.
func NewCache(clock Clock, ttl time.Duration) *Cache {
	return &Cache{
		Users: NewTTLCache(clock, ttl),
		Tiers: NewTTLCache(clock, ttl),
		Slugs: NewTTLCache(clock, ttl),
	}
}
