// Package telemetry is the reference MetricsSink and thin ops HTTP surface
// (spec.md §1 excludes a full dashboard API; SUPPLEMENTED FEATURES adds a
// minimal /healthz, /metrics, /debug/dashboard instead).
//
// Grounded on internal/interfaces/http/metrics.go's MetricsRegistry: the
// same NewXxxVec-plus-MustRegister construction and Record*/Update*
// method shape, generalized from pipeline/regime metrics to the quality
// monitor's orchestrator.RealTimeQualityMetrics snapshot.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// Registry holds every Prometheus metric the quality monitor exposes.
type Registry struct {
	ActiveSymbols     prometheus.Gauge
	OverallHealth     prometheus.Gauge
	EventsPerSecond   prometheus.Gauge
	GapCount5Min      prometheus.Gauge
	ErrorCount5Min    prometheus.Gauge
	AnomalyCount5Min  prometheus.Gauge
	AverageLatencyMs  prometheus.Gauge
	SymbolsWithIssues prometheus.Gauge
	SymbolHealthScore *prometheus.GaugeVec

	BackfillCompleted *prometheus.CounterVec
	BackfillFailed    *prometheus.CounterVec
	BackfillBars      *prometheus.CounterVec
	BackfillQueueLen  prometheus.Gauge

	StreamingReconnects prometheus.Counter
	StreamingState      prometheus.Gauge
}

// NewRegistry constructs and registers every metric against reg (pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer for production use via promhttp.Handler).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ActiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_active_symbols",
			Help: "Number of symbols currently tracked by the orchestrator",
		}),
		OverallHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_overall_health_score",
			Help: "Aggregate health score across all tracked symbols (0-1)",
		}),
		EventsPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_events_per_second",
			Help: "Aggregate trade+quote+bar event rate across all symbols",
		}),
		GapCount5Min: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_gap_count_5m",
			Help: "Data gaps detected in the trailing five minutes",
		}),
		ErrorCount5Min: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_sequence_error_count_5m",
			Help: "Sequence errors detected in the trailing five minutes",
		}),
		AnomalyCount5Min: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_anomaly_count_5m",
			Help: "Anomalies detected in the trailing five minutes",
		}),
		AverageLatencyMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_average_latency_ms",
			Help: "Average provider-to-ingest latency across symbols",
		}),
		SymbolsWithIssues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_symbols_with_issues",
			Help: "Number of symbols with at least one active issue",
		}),
		SymbolHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketwatch_symbol_health_score",
			Help: "Per-symbol health score (0-1) for the symbols in the orchestrator's TopSymbols snapshot",
		}, []string{"symbol", "state"}),

		BackfillCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketwatch_backfill_requests_succeeded_total",
			Help: "Backfill requests that completed successfully, by provider",
		}, []string{"provider"}),
		BackfillFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketwatch_backfill_requests_failed_total",
			Help: "Backfill requests that exhausted retries or failed outright, by provider",
		}, []string{"provider"}),
		BackfillBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketwatch_backfill_bars_retrieved_total",
			Help: "Bars retrieved via backfill, by symbol",
		}, []string{"symbol"}),
		BackfillQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_backfill_queue_length",
			Help: "Current depth of the backfill request queue",
		}),

		StreamingReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketwatch_streaming_reconnects_total",
			Help: "Streaming client reconnect attempts",
		}),
		StreamingState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketwatch_streaming_state",
			Help: "Streaming client connection state (0=disconnected,1=connecting,2=connected,3=authenticated,4=receiving_updates,5=reconnecting,6=disposed,7=failed)",
		}),
	}

	reg.MustRegister(
		r.ActiveSymbols, r.OverallHealth, r.EventsPerSecond, r.GapCount5Min,
		r.ErrorCount5Min, r.AnomalyCount5Min, r.AverageLatencyMs, r.SymbolsWithIssues,
		r.SymbolHealthScore, r.BackfillCompleted, r.BackfillFailed, r.BackfillBars,
		r.BackfillQueueLen, r.StreamingReconnects, r.StreamingState,
	)
	return r
}

// RealTimeQualityMetrics is the narrow shape of
// orchestrator.RealTimeQualityMetrics this package depends on, kept local
// so this package never imports internal/quality/orchestrator directly.
type RealTimeQualityMetrics struct {
	ActiveSymbols     int
	OverallHealthScore float64
	EventsPerSecond   float64
	GapCount5Min      int
	ErrorCount5Min    int
	AnomalyCount5Min  int
	AverageLatencyMs  float64
	SymbolsWithIssues int
	TopSymbols        []domain.SymbolHealth
}

// ObserveQualityMetrics mirrors one quality snapshot into the Prometheus
// gauges above. The orchestrator's snapshot type also carries a Timestamp,
// so a caller copies the shared fields into this type rather than
// converting it directly; cmd/marketwatch serve does not install it as the
// orchestrator's MetricsListener.
func (r *Registry) ObserveQualityMetrics(m RealTimeQualityMetrics) {
	r.ActiveSymbols.Set(float64(m.ActiveSymbols))
	r.OverallHealth.Set(m.OverallHealthScore)
	r.EventsPerSecond.Set(m.EventsPerSecond)
	r.GapCount5Min.Set(float64(m.GapCount5Min))
	r.ErrorCount5Min.Set(float64(m.ErrorCount5Min))
	r.AnomalyCount5Min.Set(float64(m.AnomalyCount5Min))
	r.AverageLatencyMs.Set(m.AverageLatencyMs)
	r.SymbolsWithIssues.Set(float64(m.SymbolsWithIssues))

	r.SymbolHealthScore.Reset()
	for _, sh := range m.TopSymbols {
		r.SymbolHealthScore.WithLabelValues(string(sh.Symbol), sh.State.String()).Set(sh.Score)
	}
}

// RecordBackfillSuccess credits provider with one completed request and
// symbol with barCount retrieved bars.
func (r *Registry) RecordBackfillSuccess(provider, symbol string, barCount int) {
	r.BackfillCompleted.WithLabelValues(provider).Inc()
	r.BackfillBars.WithLabelValues(symbol).Add(float64(barCount))
}

// RecordBackfillFailure credits provider with one failed request.
func (r *Registry) RecordBackfillFailure(provider string) {
	r.BackfillFailed.WithLabelValues(provider).Inc()
}

// SetBackfillQueueLength reports the queue's current depth.
func (r *Registry) SetBackfillQueueLength(n int) {
	r.BackfillQueueLen.Set(float64(n))
}

// RecordStreamingReconnect increments the reconnect counter.
func (r *Registry) RecordStreamingReconnect() {
	r.StreamingReconnects.Inc()
}

// SetStreamingState reports the streaming client's current connection
// state as a small integer, matching the mapping documented on
// StreamingState's Help text.
func (r *Registry) SetStreamingState(state int) {
	r.StreamingState.Set(float64(state))
}
