package backfillprovider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestClient_GetBars_ParsesDailyAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v2/aggs/ticker/AAPL/range/1/day")
		w.Write([]byte(`{"status":"OK","results":[{"t":1700000000000,"o":100,"h":105,"l":99,"c":104,"v":1000,"vw":102.5,"n":50}]}`))
	}))
	defer srv.Close()

	c := New(config.HistoricalProviderConfig{BaseURL: srv.URL, RequestTimeout: time.Second})
	bars, err := c.GetBars(context.Background(), "AAPL", time.Now().Add(-24*time.Hour), time.Now(), domain.GranularityDaily)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, domain.Symbol("AAPL"), bars[0].Symbol)
	assert.True(t, bars[0].Valid())
	assert.Equal(t, domain.TimeframeDay, bars[0].Timeframe)
}

func TestClient_GetBars_TooManyRequestsReturnsRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(config.HistoricalProviderConfig{BaseURL: srv.URL, RequestTimeout: time.Second})
	_, err := c.GetBars(context.Background(), "AAPL", time.Now().Add(-time.Hour), time.Now(), domain.GranularityMinute)
	require.Error(t, err)
}

func TestClient_GetBars_ProviderErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","error":"unknown ticker"}`))
	}))
	defer srv.Close()

	c := New(config.HistoricalProviderConfig{BaseURL: srv.URL, RequestTimeout: time.Second})
	_, err := c.GetBars(context.Background(), "NOPE", time.Now().Add(-time.Hour), time.Now(), domain.GranularityDaily)
	require.Error(t, err)
}
