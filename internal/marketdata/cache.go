// Package marketdata implements the two-tier OHLCV cache (spec section
// 4.5, C5): a bounded in-memory LRU in front of the on-disk tier backed by
// the same SQLite database persistence uses (C6).
package marketdata

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensqt/gridbot/internal/core"
)

// timeframeDurations maps the timeframe strings the exchange adapters
// understand to their nominal bar width, used for gap detection. There is
// no generic "parse interval string" helper in the example corpus, so this
// is a small hand-rolled table rather than a dependency.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

type cacheKey struct {
	symbol    string
	timeframe string
}

type cacheEntry struct {
	key     cacheKey
	candles []core.Candle // sorted ascending by Timestamp
}

// Cache is a bounded LRU of per-(symbol, timeframe) candle series backed by
// persistence for cache misses and eviction spill. Go's standard library
// has no generic LRU container, so this follows the textbook
// container/list + map approach rather than pulling in a dependency the
// example pack never imports for this concern.
type Cache struct {
	exchange   string
	store      core.IPersistence
	logger     core.ILogger
	maxEntries int

	mu    sync.Mutex
	ll    *list.List // most-recently-used at the front
	items map[cacheKey]*list.Element
}

// NewCache builds a cache with room for maxEntries distinct (symbol,
// timeframe) series in memory; every series still round-trips through
// store for anything not currently resident.
func NewCache(exchange string, store core.IPersistence, logger core.ILogger, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &Cache{
		exchange:   exchange,
		store:      store,
		logger:     logger.With("component", "ohlcv_cache"),
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[cacheKey]*list.Element),
	}
}

func (c *Cache) touch(key cacheKey) *cacheEntry {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheEntry)
	}
	return nil
}

func (c *Cache) put(entry *cacheEntry) {
	if el, ok := c.items[entry.key]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(entry)
	c.items[entry.key] = el

	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Get returns candles in [start, end] for (symbol, timeframe), serving
// from the in-memory tier when the requested window is fully resident and
// falling back to persistence (and repopulating the memory tier) otherwise.
func (c *Cache) Get(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	key := cacheKey{symbol: symbol, timeframe: timeframe}

	c.mu.Lock()
	entry := c.touch(key)
	c.mu.Unlock()

	if entry != nil && coversWindow(entry.candles, start, end) {
		return sliceWindow(entry.candles, start, end), nil
	}

	candles, err := c.store.GetOHLCV(ctx, c.exchange, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("ohlcv cache miss, disk read failed: %w", err)
	}

	c.mu.Lock()
	c.mergeAndPut(key, candles)
	c.mu.Unlock()

	return candles, nil
}

// Put writes candles into both the in-memory tier and persistence.
func (c *Cache) Put(ctx context.Context, symbol, timeframe string, candles []core.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	if err := c.store.PutOHLCV(ctx, c.exchange, symbol, timeframe, candles); err != nil {
		return fmt.Errorf("ohlcv cache put: disk write failed: %w", err)
	}

	c.mu.Lock()
	c.mergeAndPut(cacheKey{symbol: symbol, timeframe: timeframe}, candles)
	c.mu.Unlock()
	return nil
}

// mergeAndPut assumes c.mu is held. It merges incoming candles into any
// resident series for key, de-duplicating by timestamp (the later value
// wins) and keeping the result sorted ascending.
func (c *Cache) mergeAndPut(key cacheKey, incoming []core.Candle) {
	existing := c.items[key]
	byTs := make(map[int64]core.Candle)

	if existing != nil {
		for _, cd := range existing.Value.(*cacheEntry).candles {
			byTs[cd.Timestamp.UnixMilli()] = cd
		}
	}
	for _, cd := range incoming {
		byTs[cd.Timestamp.UnixMilli()] = cd
	}

	merged := make([]core.Candle, 0, len(byTs))
	for _, cd := range byTs {
		merged = append(merged, cd)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })

	c.put(&cacheEntry{key: key, candles: merged})
}

func coversWindow(candles []core.Candle, start, end time.Time) bool {
	if len(candles) == 0 {
		return false
	}
	first, last := candles[0].Timestamp, candles[len(candles)-1].Timestamp
	return !first.After(start) && !last.Before(end)
}

func sliceWindow(candles []core.Candle, start, end time.Time) []core.Candle {
	out := make([]core.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			out = append(out, c)
		}
	}
	return out
}

// DetectGaps reports intervals where consecutive candles are more than
// 1.5x the timeframe's nominal bar width apart, meaning at least one bar
// is missing in between. Unknown timeframes are skipped (no nominal
// width to compare against) rather than erroring, since callers may pass
// custom/exchange-specific intervals.
func (c *Cache) DetectGaps(symbol, timeframe string, candles []core.Candle) []core.Gap {
	width, ok := timeframeDurations[timeframe]
	if !ok || len(candles) < 2 {
		return nil
	}

	var gaps []core.Gap
	threshold := time.Duration(float64(width) * 1.5)
	for i := 1; i < len(candles); i++ {
		delta := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if delta > threshold {
			gaps = append(gaps, core.Gap{After: candles[i-1].Timestamp, Before: candles[i].Timestamp})
		}
	}
	return gaps
}

var _ core.IOHLCVCache = (*Cache)(nil)
