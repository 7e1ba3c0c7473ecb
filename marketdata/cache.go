package marketdata

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Fetch retry policy: up to 3 attempts with delay min(10, 2*2^n) seconds.
const (
	fetchAttempts    = 3
	validateAttempts = 2
)

// DataError marks an upstream fetch failure. The scanner logs these at
// WARNING, records them in error_logs and skips the current symbol.
type DataError struct {
	Symbol   string
	Interval string
	Err      error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data fetch failed for %s %s: %v", e.Symbol, e.Interval, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

type cacheKey struct {
	symbol   string
	interval string
}

// Cache is an incremental per-(symbol, interval) candle store. On first
// request it fetches the full lookback window; afterwards it fetches only
// candles since the last cached timestamp and merges them in, so the most
// recent (possibly unfinished) candle is updated in place.
type Cache struct {
	provider Provider

	mu        sync.Mutex
	series    map[cacheKey]Series
	lastFetch map[cacheKey]time.Time

	// now is swappable for tests
	now func() time.Time
}

// NewCache creates a candle cache over the given provider.
func NewCache(provider Provider) *Cache {
	return &Cache{
		provider:  provider,
		series:    make(map[cacheKey]Series),
		lastFetch: make(map[cacheKey]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetCandles returns an ordered series covering at least the requested
// lookback. Lookback beyond the interval's vendor maximum is clamped with a
// warning. The returned series is a copy and is never empty on success.
func (c *Cache) GetCandles(ctx context.Context, symbol, interval string, lookback time.Duration) (Series, error) {
	maxLb, ok := maxLookback[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}
	if lookback > maxLb {
		log.Printf("⚠️ Lookback %v exceeds max %v for %s %s, using max", lookback, maxLb, symbol, interval)
		lookback = maxLb
	}

	key := cacheKey{symbol, interval}

	c.mu.Lock()
	cached, hit := c.series[key]
	c.mu.Unlock()

	if hit {
		// Incremental fetch: only candles since the last cached timestamp.
		// Re-fetching the last timestamp lets the unfinished candle be
		// replaced by its newest version.
		start := cached[len(cached)-1].Timestamp
		fresh, err := c.fetchWithRetry(ctx, symbol, interval, start, nil)
		if err != nil {
			return nil, &DataError{Symbol: symbol, Interval: interval, Err: err}
		}

		c.mu.Lock()
		merged := mergeSeries(c.series[key], fresh)
		c.series[key] = merged
		c.lastFetch[key] = c.now()
		out := append(Series(nil), merged...)
		c.mu.Unlock()
		return out, nil
	}

	// First fetch: full lookback window.
	start := c.now().Add(-lookback)
	fresh, err := c.fetchWithRetry(ctx, symbol, interval, start, nil)
	if err != nil {
		return nil, &DataError{Symbol: symbol, Interval: interval, Err: err}
	}
	if len(fresh) == 0 {
		return nil, &DataError{Symbol: symbol, Interval: interval, Err: fmt.Errorf("no data returned")}
	}

	sorted := mergeSeries(nil, fresh)

	c.mu.Lock()
	c.series[key] = sorted
	c.lastFetch[key] = c.now()
	out := append(Series(nil), sorted...)
	c.mu.Unlock()
	return out, nil
}

// ValidateSymbol checks that the vendor knows the symbol by fetching one
// daily candle. Returns false on empty result or error.
func (c *Cache) ValidateSymbol(ctx context.Context, symbol string) bool {
	var lastErr error
	for attempt := 0; attempt < validateAttempts; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, backoffDelay(attempt-1))
		}
		daily, err := c.provider.FetchDaily(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if len(daily) == 0 {
			log.Printf("⚠️ Symbol validation failed: %s returned no data", symbol)
			return false
		}
		return true
	}
	log.Printf("⚠️ Symbol validation error for %s: %v", symbol, lastErr)
	return false
}

// Clear purges matching cache entries. Empty symbol or interval acts as a
// wildcard; both empty clears everything.
func (c *Cache) Clear(symbol, interval string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if symbol == "" && interval == "" {
		c.series = make(map[cacheKey]Series)
		c.lastFetch = make(map[cacheKey]time.Time)
		log.Println("🔄 Cleared all candle cache")
		return
	}

	removed := 0
	for key := range c.series {
		if (symbol == "" || key.symbol == symbol) && (interval == "" || key.interval == interval) {
			delete(c.series, key)
			delete(c.lastFetch, key)
			removed++
		}
	}
	log.Printf("🔄 Cleared candle cache for %d entries", removed)
}

func (c *Cache) fetchWithRetry(ctx context.Context, symbol, interval string, start time.Time, end *time.Time) (Series, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			log.Printf("🔄 Retrying fetch for %s %s (attempt %d/%d)", symbol, interval, attempt+1, fetchAttempts)
			if err := sleepCtx(ctx, backoffDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		series, err := c.provider.Fetch(ctx, symbol, interval, start, end)
		if err == nil {
			return series, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoffDelay returns min(10, 2*2^n) seconds for retry n.
func backoffDelay(n int) time.Duration {
	secs := 2 * (1 << uint(n))
	if secs > 10 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mergeSeries merges fresh candles into base, de-duplicating by timestamp
// with the newest arrival winning, and returns the result sorted ascending.
func mergeSeries(base, fresh Series) Series {
	byTS := make(map[time.Time]Candle, len(base)+len(fresh))
	for _, c := range base {
		byTS[c.Timestamp] = c
	}
	for _, c := range fresh {
		byTS[c.Timestamp] = c
	}

	merged := make(Series, 0, len(byTS))
	for _, c := range byTS {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}
