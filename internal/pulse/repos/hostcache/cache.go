package hostcache

import (
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// Cache is an LRU memo of blocklist lookups keyed by snapshot generation and
// hostname. Keys from older generations are never read again and age out.
// A Cache created with size <= 0 is disabled: it always misses and stores nothing.
type Cache struct {
	lru       *lru.Cache[string, domain.DomainMatch]
	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a Cache holding at most size entries.
func New(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{}, nil
	}

	var c Cache
	cache, err := lru.NewWithEvict(size, func(_ string, _ domain.DomainMatch) {
		atomic.AddUint64(&c.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return &c, nil
}

// Key builds the cache key for host under a snapshot generation.
func Key(generation uint64, host string) string {
	return strconv.FormatUint(generation, 10) + "|" + host
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.lru != nil }

// Get looks up a memoized match, counting hits and misses.
func (c *Cache) Get(key string) (domain.DomainMatch, bool) {
	if c.lru == nil {
		return domain.DomainMatch{}, false
	}
	if val, ok := c.lru.Get(key); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return domain.DomainMatch{}, false
}

// Put memoizes a match.
func (c *Cache) Put(key string, m domain.DomainMatch) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, m)
}

// Len returns the number of entries in the cache.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *Cache) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Stats returns cumulative hit/miss/eviction counters.
func (c *Cache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}
