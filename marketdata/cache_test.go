package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fetchCall struct {
	symbol   string
	interval string
	start    time.Time
}

type fakeProvider struct {
	calls     []fetchCall
	responses []Series
	err       error

	daily    Series
	dailyErr error
}

func (f *fakeProvider) Fetch(ctx context.Context, symbol, interval string, start time.Time, end *time.Time) (Series, error) {
	f.calls = append(f.calls, fetchCall{symbol: symbol, interval: interval, start: start})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next, nil
}

func (f *fakeProvider) FetchDaily(ctx context.Context, symbol string) (Series, error) {
	return f.daily, f.dailyErr
}

func c(ts time.Time, close float64) Candle {
	return Candle{Timestamp: ts, Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestGetCandlesIncremental(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first := Series{c(base, 100), c(base.Add(time.Hour), 101), c(base.Add(2*time.Hour), 102)}
	// Second fetch: last candle updated in place plus one new candle.
	second := Series{c(base.Add(2*time.Hour), 102.5), c(base.Add(3*time.Hour), 103)}

	provider := &fakeProvider{responses: []Series{first, second}}
	cache := NewCache(provider)
	cache.now = func() time.Time { return base.Add(4 * time.Hour) }

	got, err := cache.GetCandles(context.Background(), "^DJI", Interval60m, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}

	got, err = cache.GetCandles(context.Background(), "^DJI", Interval60m, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 candles after merge, got %d", len(got))
	}

	// Prefix unchanged, updated candle replaced, newest appended.
	if got[0].Close != 100 || got[1].Close != 101 {
		t.Errorf("prefix changed: %+v", got[:2])
	}
	if got[2].Close != 102.5 {
		t.Errorf("expected last cached candle updated in place, got %f", got[2].Close)
	}
	if got[3].Close != 103 {
		t.Errorf("expected new candle appended, got %f", got[3].Close)
	}

	// Incremental call must start from the last cached timestamp.
	if len(provider.calls) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", len(provider.calls))
	}
	if !provider.calls[1].start.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expected incremental start %v, got %v", base.Add(2*time.Hour), provider.calls[1].start)
	}

	// Strictly increasing timestamps.
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestGetCandlesClampsLookback(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{responses: []Series{{c(base, 100)}}}
	cache := NewCache(provider)
	cache.now = func() time.Time { return base }

	_, err := cache.GetCandles(context.Background(), "EURUSD=X", Interval1m, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	// 1m lookback is clamped to 7 days.
	wantStart := base.Add(-7 * 24 * time.Hour)
	if !provider.calls[0].start.Equal(wantStart) {
		t.Errorf("expected clamped start %v, got %v", wantStart, provider.calls[0].start)
	}
}

func TestGetCandlesUnsupportedInterval(t *testing.T) {
	cache := NewCache(&fakeProvider{})
	if _, err := cache.GetCandles(context.Background(), "X", "2h", time.Hour); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

func TestGetCandlesEmptyFirstFetch(t *testing.T) {
	cache := NewCache(&fakeProvider{})
	_, err := cache.GetCandles(context.Background(), "NOPE", Interval60m, 24*time.Hour)

	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError, got %v", err)
	}
	if dataErr.Symbol != "NOPE" || dataErr.Interval != Interval60m {
		t.Errorf("unexpected error fields: %+v", dataErr)
	}
}

func TestGetCandlesReturnsCopy(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{responses: []Series{{c(base, 100), c(base.Add(time.Hour), 101)}}}
	cache := NewCache(provider)

	got, err := cache.GetCandles(context.Background(), "X", Interval60m, 24*time.Hour)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	got[0].Close = -1

	key := cacheKey{"X", Interval60m}
	if cache.series[key][0].Close == -1 {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestClear(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{responses: []Series{
		{c(base, 1)}, {c(base, 2)}, {c(base, 3)},
	}}
	cache := NewCache(provider)

	ctx := context.Background()
	cache.GetCandles(ctx, "A", Interval60m, 24*time.Hour)
	cache.GetCandles(ctx, "A", Interval5m, 24*time.Hour)
	cache.GetCandles(ctx, "B", Interval60m, 24*time.Hour)

	cache.Clear("A", "")
	if len(cache.series) != 1 {
		t.Errorf("expected only B left, got %d entries", len(cache.series))
	}

	cache.Clear("", "")
	if len(cache.series) != 0 {
		t.Errorf("expected empty cache, got %d entries", len(cache.series))
	}
}

func TestValidateSymbol(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ok := NewCache(&fakeProvider{daily: Series{c(base, 100)}})
	if !ok.ValidateSymbol(context.Background(), "GOOD") {
		t.Error("expected validation to pass")
	}

	empty := NewCache(&fakeProvider{})
	if empty.ValidateSymbol(context.Background(), "EMPTY") {
		t.Error("expected validation to fail on empty data")
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.n); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestMergeSeriesNewestWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	merged := mergeSeries(
		Series{c(base, 100), c(base.Add(time.Hour), 101)},
		Series{c(base.Add(time.Hour), 200), c(base.Add(2*time.Hour), 102)},
	)

	if len(merged) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(merged))
	}
	if merged[1].Close != 200 {
		t.Errorf("expected newest arrival to win, got %f", merged[1].Close)
	}
}
