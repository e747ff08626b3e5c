// Package cachemem is a process-local TTL cache for validation outcomes.
// It keeps repeated validations of the same key off the database for a
// short window; entries evict lazily on read.
package cachemem

import (
	"context"
	"sync"
	"time"

	"keystone/internal/usecase"
)

type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	outcome   usecase.ValidationOutcome
	expiresAt time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(_ context.Context, key string) (usecase.ValidationOutcome, bool) {
	if c == nil {
		return usecase.ValidationOutcome{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return usecase.ValidationOutcome{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return usecase.ValidationOutcome{}, false
	}
	return entry.outcome, true
}

func (c *Cache) Put(_ context.Context, key string, outcome usecase.ValidationOutcome, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{outcome: outcome, expiresAt: time.Now().Add(ttl)}
}

// Invalidate drops one fingerprint, e.g. after a license mutation.
func (c *Cache) Invalidate(_ context.Context, key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

var _ usecase.ValidationCache = (*Cache)(nil)
