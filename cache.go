package main

import (
	"sync"
	"time"
)

// TTLCache is a bounded in-memory cache. Entries expire after the configured
// TTL; when full, the entry closest to expiry is evicted to make room.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// InitCaches builds the process-wide caches. Called once at startup, after
// the database is up and before any handler can run.
func InitCaches() {
	mangaLookupCache = NewTTLCache[int64, *AniListManga](256, 12*time.Hour)
	statsFetchCache = NewTTLCache[statsCacheKey, struct{}](512, 24*time.Hour)
}

func NewTTLCache[K comparable, V any](maxSize int, ttl time.Duration) *TTLCache[K, V] {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &TTLCache[K, V]{
		entries: make(map[K]cacheEntry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Drop expired entries first, then evict the oldest if still full.
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			var oldestKey K
			var oldestExpiry time.Time
			first := true
			for k, e := range c.entries {
				if first || e.expiresAt.Before(oldestExpiry) {
					oldestKey = k
					oldestExpiry = e.expiresAt
					first = false
				}
			}
			delete(c.entries, oldestKey)
		}
	}

	c.entries[key] = cacheEntry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
