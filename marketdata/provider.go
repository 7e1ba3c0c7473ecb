// Package marketdata provides OHLC candle retrieval with an incremental
// per-(symbol, interval) cache on top of a pluggable vendor adapter.
package marketdata

import (
	"context"
	"time"
)

// Candle is a single OHLCV bar. Timestamp is UTC.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered candle sequence with strictly increasing timestamps.
// The last entry may represent an unfinished candle until its interval
// elapses.
type Series []Candle

// Last returns the most recent candle, or a zero candle when empty.
func (s Series) Last() Candle {
	if len(s) == 0 {
		return Candle{}
	}
	return s[len(s)-1]
}

// Tail returns the last n candles (or the whole series when shorter).
func (s Series) Tail(n int) Series {
	if n <= 0 || len(s) == 0 {
		return nil
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Closes returns the close prices in index order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Supported timeframe codes.
const (
	Interval1m   = "1m"
	Interval5m   = "5m"
	Interval15m  = "15m"
	Interval30m  = "30m"
	Interval60m  = "60m"
	Interval240m = "240m"
)

// maxLookback caps lookback per interval (vendor limitations).
var maxLookback = map[string]time.Duration{
	Interval1m:   7 * 24 * time.Hour,
	Interval5m:   60 * 24 * time.Hour,
	Interval15m:  60 * 24 * time.Hour,
	Interval30m:  60 * 24 * time.Hour,
	Interval60m:  730 * 24 * time.Hour,
	Interval240m: 730 * 24 * time.Hour,
}

// Provider is the upstream market-data vendor contract. Implementations
// return candles with UTC timestamps sorted ascending.
type Provider interface {
	// Fetch returns candles for [start, end]. A nil end means "now".
	Fetch(ctx context.Context, symbol, interval string, start time.Time, end *time.Time) (Series, error)
	// FetchDaily returns the most recent daily candle(s); used for symbol
	// validation only.
	FetchDaily(ctx context.Context, symbol string) (Series, error)
}
