package curator

import (
	"sync"
	"time"

	"curator_backend/models"
)

type cacheEntry struct {
	quote     models.Quote
	fetchedAt time.Time
}

// QuoteCache is an in-memory TTL cache keyed by ticker. Expired entries are
// treated as absent and overwritten on the next Put.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewQuoteCache creates a cache with the given TTL.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached quote if it is still fresh.
func (c *QuoteCache) Get(ticker string) (*models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[ticker]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	quote := entry.quote
	return &quote, true
}

// Put stores the quote, resetting its freshness window.
func (c *QuoteCache) Put(ticker string, quote models.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ticker] = cacheEntry{quote: quote, fetchedAt: c.now()}
}

// Clear drops every entry.
func (c *QuoteCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, expired ones included.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
