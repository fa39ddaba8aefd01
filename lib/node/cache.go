package node

import (
	"sync"
	"time"
)

// respCache is a time-bounded response cache keyed by full request URL (endpoint plus parameters). Concurrent
// watchers may share one client, so access is mutex-guarded. Entries older than the TTL are treated as stale and
// dropped on access, which keeps confirmation reads from ever being served data older than the most recent poll
// window.
type respCache struct {
	mu  sync.Mutex
	ttl time.Duration
	ent map[string]cacheEntry
}

type cacheEntry struct {
	body []byte
	at   time.Time
}

func newRespCache(ttl time.Duration) *respCache {
	return &respCache{ttl: ttl, ent: make(map[string]cacheEntry)}
}

// get returns the cached body for key if it is younger than the TTL.
func (c *respCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.ent[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.at) > c.ttl {
		delete(c.ent, key)
		return nil, false
	}

	return e.body, true
}

// put stores body under key, stamping it with the current time.
func (c *respCache) put(key string, body []byte) {
	c.mu.Lock()
	c.ent[key] = cacheEntry{body: body, at: time.Now()}
	c.mu.Unlock()
}
