package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInitCaches(t *testing.T) {
	mangaLookupCache = nil
	statsFetchCache = nil

	InitCaches()

	assert.NotNil(t, mangaLookupCache)
	assert.NotNil(t, statsFetchCache)

	mangaLookupCache.Set(1, &AniListManga{ID: 1, Title: "Berserk"})
	m, ok := mangaLookupCache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "Berserk", m.Title)

	statsFetchCache.Set(statsCacheKey{guildID: 20, discordID: 7}, struct{}{})
	_, ok = statsFetchCache.Get(statsCacheKey{guildID: 20, discordID: 7})
	assert.True(t, ok)
	_, ok = statsFetchCache.Get(statsCacheKey{guildID: 99, discordID: 7})
	assert.False(t, ok)
}

func TestTTLCacheGetSet(t *testing.T) {
	c := NewTTLCache[string, int](4, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, int](4, time.Minute)

	current := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.True(t, ok)

	current = current.Add(61 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheEvictsClosestToExpiry(t *testing.T) {
	c := NewTTLCache[string, int](2, time.Minute)

	current := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set("old", 1)
	current = current.Add(10 * time.Second)
	c.Set("new", 2)
	current = current.Add(10 * time.Second)
	c.Set("newest", 3)

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
	_, ok = c.Get("newest")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestTTLCachePrefersDroppingExpired(t *testing.T) {
	c := NewTTLCache[string, int](2, time.Minute)

	current := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set("stale", 1)
	current = current.Add(30 * time.Second)
	c.Set("live", 2)
	current = current.Add(45 * time.Second) // "stale" is now past its TTL

	c.Set("fresh", 3)

	_, ok := c.Get("stale")
	assert.False(t, ok)
	_, ok = c.Get("live")
	assert.True(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int](0, time.Minute) // zero size falls back to the default
	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
