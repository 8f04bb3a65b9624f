package proxy

import (
	"sync"
	"time"
)

// pageCache keeps upstream documents, not rewritten output, so every hit
// still gets a fresh replacement pass under the current settings.
type pageCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]cacheEntry
}

type cacheEntry struct {
	doc     *upstreamDoc
	created time.Time
}

func newPageCache(now func() time.Time, ttl time.Duration) *pageCache {
	if now == nil {
		now = time.Now
	}
	return &pageCache{
		now:  now,
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

func cacheKey(target, mode string) string {
	return mode + "|" + target
}

// Store keeps successful HTML responses. A zero TTL disables the cache.
func (c *pageCache) Store(key string, doc *upstreamDoc) {
	if c.ttl <= 0 || doc == nil || doc.Status != 200 || !doc.IsHTML() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{doc: doc.clone(), created: c.now()}
	c.evictLocked()
}

func (c *pageCache) Get(key string) (*upstreamDoc, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.created) >= c.ttl {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.doc.clone(), true
}

func (c *pageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *pageCache) evictLocked() {
	now := c.now()
	for k, e := range c.data {
		if now.Sub(e.created) >= c.ttl {
			delete(c.data, k)
		}
	}
}
