// Package backfillprovider implements the external HistoricalProvider
// (spec.md §6) the Backfill Worker (component M) pulls bars from: a REST
// client over a daily/minute aggregates endpoint, fronted by an optional
// Redis cache so repeated backfill requests for the same symbol/range
// don't re-hit the upstream API.
//
// Grounded on internal/providers/kraken/client.go's Client — its
// http.Client-with-tuned-Transport construction and makeRequest-style
// helper (doRequest here) are kept; the exchange-specific
// endpoints (GetTicker, GetOrderBook, GetServerTime) are replaced with the
// single aggregates endpoint spec.md §4.M's HistoricalProvider needs.
package backfillprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/qerr"
)

// Client is a REST historical-bar provider satisfying
// backfill.HistoricalProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
}

// New constructs a Client from cfg.
func New(cfg config.HistoricalProviderConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "marketwatch/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		userAgent: userAgent,
	}
}

type aggsResponse struct {
	Status  string      `json:"status"`
	Results []aggResult `json:"results"`
	Error   string      `json:"error"`
}

type aggResult struct {
	Timestamp  int64   `json:"t"` // unix millis, bar start
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     int64   `json:"v"`
	VWAP       float64 `json:"vw"`
	TradeCount int     `json:"n"`
}

// GetBars fetches every bar for symbol between from and to at the given
// granularity (spec.md §6: "HistoricalProvider.getDailyBars(symbol, from,
// to) → bars[] | RateLimitError").
func (c *Client) GetBars(ctx context.Context, symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) ([]domain.AggregateBar, error) {
	span := granularitySpan(granularity)

	params := url.Values{}
	params.Set("from", from.UTC().Format("2006-01-02"))
	params.Set("to", to.UTC().Format("2006-01-02"))
	if c.apiKey != "" {
		params.Set("apiKey", c.apiKey)
	}

	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/%s?%s", c.baseURL, url.PathEscape(string(symbol)), span, params.Encode())

	resp, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed aggsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal aggregates response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("provider error: %s", parsed.Error)
	}

	timeframe := domain.TimeframeMinute
	if granularity == domain.GranularityDaily {
		timeframe = domain.TimeframeDay
	}

	bars := make([]domain.AggregateBar, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		start := time.UnixMilli(r.Timestamp).UTC()
		bars = append(bars, domain.AggregateBar{
			Symbol:     symbol,
			StartTime:  start,
			EndTime:    start.Add(barDuration(granularity)),
			Open:       decimal.NewFromFloat(r.Open),
			High:       decimal.NewFromFloat(r.High),
			Low:        decimal.NewFromFloat(r.Low),
			Close:      decimal.NewFromFloat(r.Close),
			Volume:     r.Volume,
			VWAP:       decimal.NewFromFloat(r.VWAP),
			TradeCount: r.TradeCount,
			Timeframe:  timeframe,
			Source:     "polygon",
		})
	}
	return bars, nil
}

func granularitySpan(g domain.Granularity) string {
	if g == domain.GranularityDaily {
		return "day"
	}
	return "minute"
}

func barDuration(g domain.Granularity) time.Duration {
	if g == domain.GranularityDaily {
		return 24 * time.Hour
	}
	return time.Minute
}

func (c *Client) doRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &qerr.TransientProviderError{Provider: "polygon", Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		defer resp.Body.Close()
		retryAfter := parseRetryAfterHeader(resp.Header.Get("Retry-After"))
		return nil, &qerr.RateLimitError{Provider: "polygon", RetryAfter: retryAfter, Message: "HTTP 429"}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func parseRetryAfterHeader(raw string) *time.Duration {
	if raw == "" {
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(raw); err == nil {
		d := time.Until(t)
		return &d
	}
	return nil
}
