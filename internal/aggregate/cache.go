package aggregate

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// DisplayCache holds recently read aggregates for the display endpoints.
// Entries are dropped by the updater and rebuilder whenever they write.
//
// Every invalidation bumps a per-key version. A reader records the version
// before it loads from the store and fills the cache only if no invalidation
// happened in between, so a load that raced a write is never cached.
type DisplayCache struct {
	cache *cache.Cache

	mu       sync.Mutex
	seq      uint64
	flushed  uint64
	versions map[string]uint64
}

// NewDisplayCache creates a cache whose entries live for ttl.
func NewDisplayCache(ttl time.Duration) *DisplayCache {
	return &DisplayCache{
		cache:    cache.New(ttl, ttl*2),
		versions: make(map[string]uint64),
	}
}

func learnerKey(ownerID string) string     { return "learner:" + ownerID }
func analysisKey(analysisID string) string { return "analysis:" + analysisID }

func (c *DisplayCache) get(key string) (entities.StatusCounts, bool) {
	if c == nil {
		return nil, false
	}
	cached, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	counts, ok := cached.(entities.StatusCounts)
	if !ok {
		return nil, false
	}
	return counts.Clone(), true
}

// version returns the invalidation version of key. Pass it to set after loading.
func (c *DisplayCache) version(key string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versionLocked(key)
}

func (c *DisplayCache) versionLocked(key string) uint64 {
	return max(c.versions[key], c.flushed)
}

// set stores counts under key unless key was invalidated after version was taken.
func (c *DisplayCache) set(key string, version uint64, counts entities.StatusCounts) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(key) != version {
		return false
	}
	c.cache.Set(key, counts.Clone(), cache.DefaultExpiration)
	return true
}

func (c *DisplayCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.versions[key] = c.seq
	c.cache.Delete(key)
}

// InvalidateLearner drops the cached aggregate of ownerID.
func (c *DisplayCache) InvalidateLearner(ownerID string) {
	if c != nil {
		c.invalidate(learnerKey(ownerID))
	}
}

// InvalidateAnalysis drops the cached aggregate of analysisID.
func (c *DisplayCache) InvalidateAnalysis(analysisID string) {
	if c != nil {
		c.invalidate(analysisKey(analysisID))
	}
}

// Flush drops every entry. Loads that started before the flush are not cached.
func (c *DisplayCache) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.flushed = c.seq
	// per-key versions at or below flushed no longer matter
	clear(c.versions)
	c.cache.Flush()
}

// ItemCount returns the number of cached entries, including expired ones not yet evicted.
func (c *DisplayCache) ItemCount() int {
	if c == nil {
		return 0
	}
	return c.cache.ItemCount()
}
