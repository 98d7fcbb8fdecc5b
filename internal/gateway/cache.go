package gateway

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"quotedeck/internal/domain"
)

// Bars responses age out per granularity: intraday history moves while the
// market is open, daily history barely moves between closes.
const (
	intradayTTL = 30 * time.Second
	dailyTTL    = 5 * time.Minute
)

// Cache holds recent bars responses. Entries leave only at the defined
// trigger points: TTL expiry checked on read, Invalidate, and Clear.
// There is no background eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	bars    []domain.Bar
	savedAt time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// cacheKey identifies one bars response. The symbol leads so Invalidate
// can match by prefix.
func cacheKey(symbol string, g domain.Granularity, limit int, feedTag string) string {
	return symbol + "|" + string(g) + "|" + strconv.Itoa(limit) + "|" + feedTag
}

func ttlFor(g domain.Granularity) time.Duration {
	switch g {
	case domain.Gran1Min, domain.Gran5Min, domain.Gran15Min, domain.Gran1Hour:
		return intradayTTL
	}
	return dailyTTL
}

// Get returns the cached bars for key if they are still within g's TTL.
// An expired entry is removed on the spot.
func (c *Cache) Get(key string, g domain.Granularity) ([]domain.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.savedAt) > ttlFor(g) {
		delete(c.entries, key)
		return nil, false
	}
	return e.bars, true
}

func (c *Cache) Put(key string, bars []domain.Bar) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{bars: bars, savedAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate drops every cached response for symbol across all
// granularities, limits, and feeds.
func (c *Cache) Invalidate(symbol string) {
	prefix := symbol + "|"
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
