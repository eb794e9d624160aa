package webhook

import (
	"sync"
	"time"
)

// NonceCache is a bounded in-memory replay guard. Invalidation itself is
// idempotent, so replays are harmless to cache correctness; rejecting them
// keeps the audit trail from recording the same dispatch twice. Entries live
// for the replay window and the cache never grows past maxEntries.
type NonceCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewNonceCache builds a replay guard. A non-positive ttl falls back to
// DefaultWindow; a non-positive maxEntries falls back to 4096.
func NewNonceCache(ttl time.Duration, maxEntries int) *NonceCache {
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &NonceCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
}

// Remember records the nonce and reports whether it was fresh. An empty nonce
// is always fresh: senders are not required to supply one.
func (c *NonceCache) Remember(nonce string) bool {
	if nonce == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, expires := range c.seen {
		if now.After(expires) {
			delete(c.seen, key)
		}
	}

	if _, replayed := c.seen[nonce]; replayed {
		return false
	}
	if len(c.seen) >= c.maxEntries {
		c.evictSoonest()
	}
	c.seen[nonce] = now.Add(c.ttl)
	return true
}

// evictSoonest drops the entry closest to expiry. Callers hold the lock.
func (c *NonceCache) evictSoonest() {
	var victim string
	var soonest time.Time
	for key, expires := range c.seen {
		if victim == "" || expires.Before(soonest) {
			victim = key
			soonest = expires
		}
	}
	if victim != "" {
		delete(c.seen, victim)
	}
}
