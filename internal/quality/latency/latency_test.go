package latency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestHistogram_EmptySeriesReturnsZeroStats(t *testing.T) {
	h := New()
	stats := h.StatisticsFor("AAPL", "polygon")
	assert.Zero(t, stats.Count)
}

func TestHistogram_RecordsMinMaxMean(t *testing.T) {
	h := New()
	for _, ms := range []float64{10, 20, 30, 40, 50} {
		h.RecordLatency("AAPL", "polygon", ms)
	}

	stats := h.StatisticsFor("AAPL", "polygon")
	require.Equal(t, int64(5), stats.Count)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 50.0, stats.Max)
	assert.InDelta(t, 30.0, stats.Mean, 0.001)
}

func TestHistogram_QuantilesAreMonotonic(t *testing.T) {
	h := New()
	for i := 1; i <= 1000; i++ {
		h.RecordLatency("AAPL", "polygon", float64(i))
	}

	stats := h.StatisticsFor("AAPL", "polygon")
	assert.LessOrEqual(t, stats.P50, stats.P90)
	assert.LessOrEqual(t, stats.P90, stats.P95)
	assert.LessOrEqual(t, stats.P95, stats.P99)
}

func TestHistogram_SeparateSeriesPerSymbolAndProvider(t *testing.T) {
	h := New()
	h.RecordLatency("AAPL", "polygon", 5)
	h.RecordLatency("AAPL", "alpaca", 500)

	polygonStats := h.StatisticsFor("AAPL", "polygon")
	alpacaStats := h.StatisticsFor("AAPL", "alpaca")

	assert.Equal(t, 5.0, polygonStats.Max)
	assert.Equal(t, 500.0, alpacaStats.Max)
}

func TestHistogram_GlobalStatisticsCombinesAllSeries(t *testing.T) {
	h := New()
	for i := 0; i < 10; i++ {
		h.RecordLatency("AAPL", "polygon", 5)
	}
	for i := 0; i < 10; i++ {
		h.RecordLatency("MSFT", "alpaca", 5000)
	}

	global := h.GlobalStatistics()
	assert.Equal(t, int64(20), global.Count)
	assert.InDelta(t, 2502.5, global.Mean, 0.5)
}

func TestHistogram_UnboundedTopBucketDoesNotInterpolate(t *testing.T) {
	h := New()
	for i := 0; i < 5; i++ {
		h.RecordLatency("AAPL", "polygon", 9000)
	}

	stats := h.StatisticsFor("AAPL", "polygon")
	assert.Equal(t, 5000.0, stats.P99, "values beyond the last finite bound report the bucket's lower edge")
}

func TestHistogram_StatsForSymbolCombinesProviders(t *testing.T) {
	h := New()
	h.RecordLatency("AAPL", "polygon", 5)
	h.RecordLatency("AAPL", "alpaca", 5000)
	h.RecordLatency("MSFT", "polygon", 1)

	stats := h.StatsForSymbol("AAPL")
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, 5.0, stats.Min)
	assert.Equal(t, 5000.0, stats.Max)
}

func TestHistogram_SeriesListedSortedBySymbolThenProvider(t *testing.T) {
	h := New()
	h.RecordLatency("MSFT", "polygon", 1)
	h.RecordLatency("AAPL", "alpaca", 1)
	h.RecordLatency("AAPL", "polygon", 1)

	keys := h.Series()
	require.Len(t, keys, 3)
	assert.Equal(t, domain.Symbol("AAPL"), keys[0].Symbol)
	assert.Equal(t, domain.Provider("alpaca"), keys[0].Provider)
	assert.Equal(t, domain.Symbol("AAPL"), keys[1].Symbol)
	assert.Equal(t, domain.Provider("polygon"), keys[1].Provider)
	assert.Equal(t, domain.Symbol("MSFT"), keys[2].Symbol)
}
