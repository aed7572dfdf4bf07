package citydata

import (
	"sync"
	"time"

	"citypulse/internal/types"
)

// feedCache is a small TTL cache keyed by feed name. One entry per feed,
// guarded by a mutex; the batch evaluator hits it from multiple goroutines.
type feedCache struct {
	mu      sync.Mutex
	clock   types.Clock
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	body      []byte
	fetchedAt time.Time
}

func newFeedCache(clock types.Clock, ttl time.Duration) *feedCache {
	return &feedCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// get returns the cached body for the feed when still within the TTL.
func (c *feedCache) get(feed string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[feed]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, feed)
		return nil, false
	}
	return e.body, true
}

// put stores a freshly fetched body for the feed.
func (c *feedCache) put(feed string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[feed] = cacheEntry{body: body, fetchedAt: c.clock.Now()}
}
