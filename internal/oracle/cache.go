package oracle

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// cacheEntry holds one cached oracle result.
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache keyed by content plus structural context.
// Lookups use check-then-insert: two goroutines asking for the same key may
// both miss and both call the oracle, and the second write wins. Results are
// idempotent, so no single-flight coordination is needed.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// CacheKey derives a stable key from the full request, so the same content
// under a different heading context is a distinct entry.
func CacheKey(req Request) string {
	h := sha256.Sum256([]byte(req.Content + "\x00" + req.Heading + "\x00" + req.ParentHeading))
	return fmt.Sprintf("%x", h[:])
}

func (c *Cache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result, true
}

func (c *Cache) Put(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Cleanup removes expired entries.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
