package sltp

import (
	"context"
	"fmt"
	"time"

	"market-scanner/cache"
	"market-scanner/database"
)

// statsTTL bounds how stale a cached MAE/MFE aggregate may be. One cycle of
// staleness is harmless since the aggregate moves only when trades close.
const statsTTL = 5 * time.Minute

// CachedStats decorates a StatsProvider with a Redis cache keyed by
// (alias, direction). A nil Redis client passes every call straight through.
type CachedStats struct {
	inner StatsProvider
	redis *cache.RedisClient
}

// NewCachedStats wraps inner with Redis-backed memoisation.
func NewCachedStats(inner StatsProvider, redis *cache.RedisClient) *CachedStats {
	return &CachedStats{inner: inner, redis: redis}
}

// GetMaeMfeStats implements StatsProvider.
func (c *CachedStats) GetMaeMfeStats(symbolAlias, direction string, limit int) (database.MaeMfeStats, error) {
	key := fmt.Sprintf("maemfe:%s:%s:%d", symbolAlias, direction, limit)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if c.redis != nil {
		var cached database.MaeMfeStats
		if err := c.redis.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	stats, err := c.inner.GetMaeMfeStats(symbolAlias, direction, limit)
	if err != nil {
		return database.MaeMfeStats{}, err
	}

	if c.redis != nil {
		// Best effort: a failed cache write only costs a recompute next cycle.
		_ = c.redis.Set(ctx, key, stats, statsTTL)
	}
	return stats, nil
}

// Invalidate drops the cached aggregate for one (alias, direction) pair.
// Called after a trade closes so the next signal sees fresh numbers.
func (c *CachedStats) Invalidate(symbolAlias, direction string) {
	if c.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.redis.Delete(ctx, fmt.Sprintf("maemfe:%s:%s:%d", symbolAlias, direction, 100))
}
