// Package cache memoizes aggregation results by canonical query key.
package cache

import (
	"sync"
	"time"

	"github.com/logmesh/logmesh/internal/model"
)

// DefaultTTL is how long a cached result stays fresh.
const DefaultTTL = 60 * time.Second

type item struct {
	result   model.AggregationResult
	storedAt time.Time
}

// ResultCache is a TTL memo for aggregation results. Expiry is checked
// lazily on lookup; there is no background sweep. Entries for different
// keys never contend, and same-key writes are last-write-wins, which is
// safe because computation is idempotent for a given canonical query.
type ResultCache struct {
	ttl     time.Duration
	entries sync.Map // canonical key → item
	now     func() time.Time
}

// New creates a ResultCache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{ttl: ttl, now: time.Now}
}

// Get returns the cached result for a key if it is still within the TTL.
// Stale entries are treated as absent and removed on the way out.
func (c *ResultCache) Get(key string) (model.AggregationResult, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return model.AggregationResult{}, false
	}
	it := v.(item)
	if c.now().Sub(it.storedAt) > c.ttl {
		c.entries.Delete(key)
		return model.AggregationResult{}, false
	}
	res := it.result
	res.FromCache = true
	return res, true
}

// Set stores a result under its canonical key.
func (c *ResultCache) Set(key string, result model.AggregationResult) {
	result.FromCache = false
	c.entries.Store(key, item{result: result, storedAt: c.now()})
}

// Clear drops everything immediately.
func (c *ResultCache) Clear() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}

// Len reports the number of stored entries, including any not yet expired
// lazily. Used for introspection endpoints and tests.
func (c *ResultCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
