package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/raphaelgruber/opsight-go/internal/models"
)

// resultCache memoizes analyzer output by content hash with a TTL, so
// resubmitting identical artifacts skips the expensive LLM call.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	max     int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	result  models.AnalysisResult
	expires time.Time
}

func newResultCache(max int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

// cacheKey hashes the redacted content an analysis is derived from.
func cacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (c *resultCache) get(key string) (models.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.AnalysisResult{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return models.AnalysisResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result models.AnalysisResult) {
	if c.max <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{result: result, expires: c.now().Add(c.ttl)}
}

// evictLocked removes expired entries, falling back to the soonest
// expiring one when nothing has expired yet.
func (c *resultCache) evictLocked() {
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.max {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range c.entries {
		if oldestKey == "" || v.expires.Before(oldest) {
			oldestKey = k
			oldest = v.expires
		}
	}
	delete(c.entries, oldestKey)
}
