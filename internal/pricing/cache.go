// Package pricing provides an explicit, bounded quote cache. The engine
// never fetches prices itself — an external feed pushes quotes in, and the
// portfolio aggregator reads a snapshot out. Lifetime and concurrency are
// visible at the call site: the cache is constructed in main and passed by
// reference, never held in module scope.
package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the last observed market state for one symbol.
type Quote struct {
	Price        decimal.Decimal `json:"price"`
	Change24hPct decimal.Decimal `json:"change_24h_pct"` // signed 24h move, percent
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Cache is a TTL-bounded quote cache, safe for concurrent use. Expired
// entries are evicted lazily on read and swept on write.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
}

type entry struct {
	quote   Quote
	expires time.Time
}

// NewCache creates a quote cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Set stores a quote for a symbol and sweeps expired entries.
func (c *Cache) Set(symbol string, q Quote) {
	now := time.Now()
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = now.UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for sym, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, sym)
		}
	}
	c.entries[symbol] = entry{quote: q, expires: now.Add(c.ttl)}
}

// Get returns the quote for a symbol if present and not expired.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		return Quote{}, false
	}
	return e.quote, true
}

// Snapshot returns all unexpired quotes keyed by symbol.
func (c *Cache) Snapshot() map[string]Quote {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Quote, len(c.entries))
	for sym, e := range c.entries {
		if now.After(e.expires) {
			continue
		}
		out[sym] = e.quote
	}
	return out
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	return len(c.Snapshot())
}
