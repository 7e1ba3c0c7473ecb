package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// yahooBaseURL is the Yahoo Finance chart API endpoint.
const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// intervalMap translates our timeframe codes to the vendor's.
var intervalMap = map[string]string{
	Interval1m:   "1m",
	Interval5m:   "5m",
	Interval15m:  "15m",
	Interval30m:  "30m",
	Interval60m:  "1h",
	Interval240m: "4h",
}

// YahooProvider fetches OHLC candles from the Yahoo Finance chart API.
type YahooProvider struct {
	client  *http.Client
	baseURL string
}

// NewYahooProvider creates a provider with a bounded HTTP timeout.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: yahooBaseURL,
	}
}

// chartResponse mirrors the subset of the chart API payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch implements Provider. Timestamps in the returned series are UTC and
// sorted ascending; rows with missing OHLC values are dropped.
func (p *YahooProvider) Fetch(ctx context.Context, symbol, interval string, start time.Time, end *time.Time) (Series, error) {
	vendorInterval, ok := intervalMap[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}

	endTime := time.Now().UTC()
	if end != nil {
		endTime = *end
	}

	series, err := p.fetchChart(ctx, symbol, vendorInterval, start.Unix(), endTime.Unix())
	if err != nil {
		return nil, err
	}

	if len(series) > 0 {
		log.Printf("📈 Fetched %d candles for %s %s (%s → %s)",
			len(series), symbol, interval,
			series[0].Timestamp.Format(time.RFC3339),
			series[len(series)-1].Timestamp.Format(time.RFC3339))
	}
	return series, nil
}

// FetchDaily implements Provider; it requests the last day of daily candles.
func (p *YahooProvider) FetchDaily(ctx context.Context, symbol string) (Series, error) {
	start := time.Now().UTC().Add(-5 * 24 * time.Hour)
	return p.fetchChart(ctx, symbol, "1d", start.Unix(), time.Now().UTC().Unix())
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol, vendorInterval string, period1, period2 int64) (Series, error) {
	q := url.Values{}
	q.Set("interval", vendorInterval)
	q.Set("period1", fmt.Sprintf("%d", period1))
	q.Set("period2", fmt.Sprintf("%d", period2))
	q.Set("includePrePost", "false")

	reqURL := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "market-scanner/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart request for %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode chart response: %w", err)
	}

	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("vendor error for %s: %s", symbol, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	series := make(Series, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		// Vendor emits nulls for halted or partial buckets
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		var volume float64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		series = append(series, Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      *quote.Open[i],
			High:      *quote.High[i],
			Low:       *quote.Low[i],
			Close:     *quote.Close[i],
			Volume:    volume,
		})
	}
	return series, nil
}
