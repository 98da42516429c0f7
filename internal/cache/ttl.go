// Package cache memoizes expensive lookups made during a chat turn.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the lifetime of an entry when none is configured.
const DefaultTTL = 10 * time.Minute

type entry struct {
	value   any
	expires time.Time
}

// TTL is a map of values that each expire independently. Expiry is checked on
// every read; Clean reclaims memory held by expired entries.
type TTL struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *TTL {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// TTL returns how long entries live.
func (c *TTL) TTL() time.Duration { return c.ttl }

// WithClock replaces the time source. Intended for tests.
func (c *TTL) WithClock(now func() time.Time) *TTL {
	c.now = now
	return c
}

// Key builds the cache key for name and args. Map keys are serialized in sorted
// order, so equal arguments always produce the same key.
func Key(name string, args any) (string, error) {
	if args == nil {
		return name, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key %s: %w", name, err)
	}
	return name + ":" + string(data), nil
}

// Get returns the live value cached for name and args, or calls resolve and
// caches its result. Resolver errors are returned and not cached.
func Get[V any](c *TTL, name string, args any, resolve func() (V, error)) (V, error) {
	var zero V
	key, err := Key(name, args)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		if v, ok := e.value.(V); ok {
			return v, nil
		}
	}

	v, err := resolve()
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return v, nil
}

// Clean removes expired entries and reports how many were dropped.
func (c *TTL) Clean() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
