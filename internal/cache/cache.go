// Package cache implements the time-bounded series cache in front of the
// history provider. It is an explicit object with an injectable clock and
// TTL rather than process-global state, so expiry is testable without real
// time passing.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "series_cache_hits_total",
			Help: "Total number of series cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "series_cache_misses_total",
			Help: "Total number of series cache misses",
		},
	)
)

// DefaultTTL is the freshness bound for cached series
const DefaultTTL = 60 * time.Second

// Clock supplies the current time; tests inject a fake
type Clock func() time.Time

// FetchFunc produces a series on a cache miss
type FetchFunc func(ctx context.Context) (models.Series, error)

type entry struct {
	fetchedAt time.Time
	series    models.Series
}

// ResultCache memoizes candle series per (symbol, interval, market) key.
// Concurrent callers for the same key share one fetch; different keys do
// not block each other.
type ResultCache struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[models.SeriesKey]*entry
	inUse   map[models.SeriesKey]*sync.Mutex
}

// New creates a cache with the given TTL. A nil clock uses time.Now.
func New(ttl time.Duration, clock Clock) *ResultCache {
	if clock == nil {
		clock = time.Now
	}
	return &ResultCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[models.SeriesKey]*entry),
		inUse:   make(map[models.SeriesKey]*sync.Mutex),
	}
}

// GetOrFetch returns the cached series for key when present and younger
// than the TTL, otherwise invokes fetch and stores its result. A failed
// fetch is never cached. The returned series is a copy; callers may
// mutate it freely.
func (c *ResultCache) GetOrFetch(ctx context.Context, key models.SeriesKey, fetch FetchFunc) (models.Series, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	keyMu := c.keyLock(key)
	keyMu.Lock()
	defer keyMu.Unlock()

	now := c.clock()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	// An empty stored series is treated as corruption, hence a miss
	if ok && len(e.series) > 0 && now.Sub(e.fetchedAt) <= c.ttl {
		cacheHits.Inc()
		return e.series.Clone(), nil
	}
	cacheMisses.Inc()

	series, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &entry{fetchedAt: now, series: series.Clone()}
	c.mu.Unlock()

	return series, nil
}

// Invalidate drops the entry for key, if any
func (c *ResultCache) Invalidate(key models.SeriesKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyLock returns the per-key fetch mutex, creating it on first use
func (c *ResultCache) keyLock(key models.SeriesKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.inUse[key]
	if !ok {
		mu = &sync.Mutex{}
		c.inUse[key] = mu
	}
	return mu
}
