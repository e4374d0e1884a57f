package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestRegistry_ObserveQualityMetrics_UpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveQualityMetrics(RealTimeQualityMetrics{
		ActiveSymbols:      5,
		OverallHealthScore: 92.5,
		EventsPerSecond:    123.4,
		GapCount5Min:       2,
		ErrorCount5Min:     1,
		AnomalyCount5Min:   0,
		AverageLatencyMs:   45.6,
		SymbolsWithIssues:  1,
		TopSymbols: []domain.SymbolHealth{
			{Symbol: "AAPL", State: domain.HealthDegraded, Score: 60},
		},
	})

	assert.Equal(t, float64(5), testutil.ToFloat64(r.ActiveSymbols))
	assert.Equal(t, 92.5, testutil.ToFloat64(r.OverallHealth))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.GapCount5Min))
}

func TestRegistry_BackfillCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordBackfillSuccess("polygon", "AAPL", 10)
	r.RecordBackfillSuccess("polygon", "AAPL", 5)
	r.RecordBackfillFailure("polygon")
	r.SetBackfillQueueLength(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.BackfillCompleted.WithLabelValues("polygon")))
	assert.Equal(t, float64(15), testutil.ToFloat64(r.BackfillBars.WithLabelValues("AAPL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.BackfillFailed.WithLabelValues("polygon")))
	assert.Equal(t, float64(7), testutil.ToFloat64(r.BackfillQueueLen))
}

func TestRegistry_StreamingGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordStreamingReconnect()
	r.RecordStreamingReconnect()
	r.SetStreamingState(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.StreamingReconnects))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.StreamingState))
}

func TestNewRegistry_DoesNotPanicOnDoubleConstruction(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		NewRegistry(reg1)
		NewRegistry(reg2)
	})
}
