// Package orchestrator implements the Quality Orchestrator (spec.md
// §4.J): the single fan-in entrypoint that forwards every ingested trade
// or quote to components A–H, maintains a concurrent per-symbol health
// map, and emits periodic dashboard snapshots.
//
// Grounded on the teacher's internal/quality/validator.go mutex-guarded
// map-of-state pattern, generalized from a single validation-outcome map
// to an upsert-with-dedup-capped-issues SymbolHealth map, plus the
// teacher's background-ticker style used throughout internal/metrics for
// periodic recomputation.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/anomaly"
	"github.com/sawpanic/marketwatch/internal/quality/completeness"
	"github.com/sawpanic/marketwatch/internal/quality/gap"
	"github.com/sawpanic/marketwatch/internal/quality/latency"
	"github.com/sawpanic/marketwatch/internal/quality/liquidity"
	"github.com/sawpanic/marketwatch/internal/quality/report"
	"github.com/sawpanic/marketwatch/internal/quality/sequence"
	"github.com/sawpanic/marketwatch/internal/quality/sla"
)

// staleTickInterval is the cadence at which timeSinceLastEvent is
// recomputed and stale promotion is checked (spec.md §4.J).
const staleTickInterval = 5 * time.Second

// recentEventWindow retains the last 5 minutes of gap/error/anomaly
// timestamps for the dashboard's rolling counters, per spec.md §4.J.
const recentEventWindow = 5 * time.Minute

// recentEventRetention bounds the timestamp slices so a quiet symbol
// doesn't grow them forever.
const recentEventRetention = time.Hour

// MetricsListener receives a RealTimeQualityMetrics snapshot on every
// staleTickInterval tick.
type MetricsListener func(RealTimeQualityMetrics)

// RealTimeQualityMetrics is the Orchestrator's periodic dashboard
// snapshot (spec.md §4.J's getRealTimeMetrics contract).
type RealTimeQualityMetrics struct {
	Timestamp           time.Time
	ActiveSymbols       int
	OverallHealthScore  float64
	EventsPerSecond     float64
	GapCount5Min        int
	ErrorCount5Min      int
	AnomalyCount5Min    int
	AverageLatencyMs    float64
	SymbolsWithIssues   int
	TopSymbols          []domain.SymbolHealth
}

// Orchestrator is the Quality Orchestrator. Safe for concurrent use.
type Orchestrator struct {
	gap          *gap.Analyzer
	seq          *sequence.Tracker
	completeness *completeness.Calculator
	anomaly      *anomaly.Detector
	latency      *latency.Histogram
	sla          *sla.Monitor
	report       *report.Generator

	eventsPerSecond func() float64
	log             zerolog.Logger

	mu        sync.RWMutex
	health    map[domain.Symbol]*domain.SymbolHealth
	liquidity map[domain.Symbol]domain.LiquidityProfile

	recent struct {
		sync.Mutex
		gaps      []time.Time
		errors    []time.Time
		anomalies []time.Time
	}

	metricsListener MetricsListener

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Orchestrator wired to already-constructed detector
// components. It registers itself as the sole listener on gap, anomaly,
// and sla so it can react to detections as they happen; callers must not
// also call those components' SetListener/SetListeners afterward.
func New(
	gapAnalyzer *gap.Analyzer,
	seqTracker *sequence.Tracker,
	completenessCalc *completeness.Calculator,
	anomalyDetector *anomaly.Detector,
	latencyHist *latency.Histogram,
	slaMonitor *sla.Monitor,
	eventsPerSecond func() float64,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		gap:             gapAnalyzer,
		seq:             seqTracker,
		completeness:    completenessCalc,
		anomaly:         anomalyDetector,
		latency:         latencyHist,
		sla:             slaMonitor,
		report:          report.New(gapAnalyzer, seqTracker, completenessCalc, anomalyDetector, latencyHist, slaMonitor),
		eventsPerSecond: eventsPerSecond,
		log:             log,
		health:          make(map[domain.Symbol]*domain.SymbolHealth),
		liquidity:       make(map[domain.Symbol]domain.LiquidityProfile),
	}

	o.gap.SetListener(o.onGap)
	o.anomaly.SetListener(o.onAnomaly)
	o.sla.SetListeners(o.onSLAViolation, o.onSLARecovery)

	return o
}

// RegisterSymbolLiquidity records a symbol's liquidity tier, passed to the
// Gap Analyzer's threshold lookup and consulted by the Orchestrator's own
// stale promotion.
func (o *Orchestrator) RegisterSymbolLiquidity(symbol domain.Symbol, profile domain.LiquidityProfile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.liquidity[symbol] = profile
}

func (o *Orchestrator) liquidityFor(symbol domain.Symbol) domain.LiquidityProfile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	profile, ok := o.liquidity[symbol]
	if !ok {
		return domain.LiquidityHigh
	}
	return profile
}

// SetMetricsListener installs the periodic snapshot listener.
func (o *Orchestrator) SetMetricsListener(l MetricsListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metricsListener = l
}

// safeCall sandboxes a detector listener invocation: a panicking listener
// is caught, logged, and does not take down the caller's goroutine
// (spec.md §7's "detector listeners are sandboxed" propagation policy).
func (o *Orchestrator) safeCall(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("listener", label).Interface("panic", r).Msg("orchestrator listener panicked, recovered")
		}
	}()
	fn()
}

// ProcessTrade implements spec.md §4.J's processTrade: forwards the event
// to C, D, E, F, G, H in turn, reacting to whatever each one reports.
func (o *Orchestrator) ProcessTrade(trade domain.TradeEvent) {
	profile := o.liquidityFor(trade.Symbol)

	o.safeCall("gap.RecordEvent", func() {
		o.gap.RecordEvent(trade.Symbol, domain.EventKindTrades, trade.Timestamp, trade.Sequence, profile)
	})

	if trade.Sequence != nil {
		if seqErr := o.seq.CheckSequence(trade.Symbol, domain.EventKindTrades, string(trade.Provider), *trade.Sequence, trade.Timestamp, trade.Provider); seqErr != nil {
			o.recordSequenceError(*seqErr)
		}
	}

	o.completeness.RecordEvent(trade.Symbol, trade.Timestamp, domain.EventKindTrades)

	o.safeCall("anomaly.ProcessTrade", func() {
		o.anomaly.ProcessTrade(trade.Symbol, trade.Timestamp, trade.Price, trade.Volume)
	})

	if trade.LatencyMs != nil {
		o.latency.RecordLatency(trade.Symbol, trade.Provider, *trade.LatencyMs)
	}

	o.sla.RecordEvent(trade.Symbol, trade.Timestamp)

	o.touch(trade.Symbol, trade.Timestamp)
}

// ProcessQuote implements spec.md §4.J's processQuote.
func (o *Orchestrator) ProcessQuote(quote domain.QuoteEvent) {
	profile := o.liquidityFor(quote.Symbol)

	o.safeCall("gap.RecordEvent", func() {
		o.gap.RecordEvent(quote.Symbol, domain.EventKindQuotes, quote.Timestamp, nil, profile)
	})

	o.completeness.RecordEvent(quote.Symbol, quote.Timestamp, domain.EventKindQuotes)

	o.safeCall("anomaly.ProcessQuote", func() {
		o.anomaly.ProcessQuote(quote.Symbol, quote.Timestamp, quote.BidPrice, quote.AskPrice)
	})

	if quote.LatencyMs != nil {
		o.latency.RecordLatency(quote.Symbol, quote.Provider, *quote.LatencyMs)
	}

	o.sla.RecordEvent(quote.Symbol, quote.Timestamp)

	o.touch(quote.Symbol, quote.Timestamp)
}

// ProcessAggregate records an aggregate bar's arrival against the gap,
// completeness, and SLA detectors. Aggregates carry no per-event sequence
// number or bid/ask spread, so D and F take no part here.
func (o *Orchestrator) ProcessAggregate(bar domain.AggregateBar) {
	profile := o.liquidityFor(bar.Symbol)

	o.safeCall("gap.RecordEvent", func() {
		o.gap.RecordEvent(bar.Symbol, domain.EventKindAggregates, bar.EndTime, nil, profile)
	})

	o.completeness.RecordEvent(bar.Symbol, bar.EndTime, domain.EventKindAggregates)
	o.sla.RecordEvent(bar.Symbol, bar.EndTime)
	o.touch(bar.Symbol, bar.EndTime)
}

func (o *Orchestrator) recordSequenceError(e domain.SequenceError) {
	o.recent.Lock()
	o.recent.errors = append(o.recent.errors, e.Timestamp)
	o.recent.Unlock()

	o.updateHealth(e.Symbol, domain.HealthDegraded, fmt.Sprintf("Sequence %s", e.ErrorType))
}

func (o *Orchestrator) onGap(g domain.DataGap) {
	o.recent.Lock()
	o.recent.gaps = append(o.recent.gaps, g.GapEnd)
	o.recent.Unlock()

	state := domain.HealthDegraded
	if g.Severity == domain.GapSignificant || g.Severity == domain.GapMajor || g.Severity == domain.GapCritical {
		state = domain.HealthUnhealthy
	}
	issue := fmt.Sprintf("Gap detected (%s, %s)", g.Severity, g.EventKind)
	o.updateHealth(g.Symbol, state, issue)
}

func (o *Orchestrator) onAnomaly(a domain.DataAnomaly) {
	o.recent.Lock()
	o.recent.anomalies = append(o.recent.anomalies, a.Timestamp)
	o.recent.Unlock()

	if a.Severity == domain.AnomalyInfo {
		return
	}
	state := domain.HealthDegraded
	if a.Severity == domain.AnomalyError || a.Severity == domain.AnomalyCritical {
		state = domain.HealthUnhealthy
	}
	o.updateHealth(a.Symbol, state, a.Description)
}

func (o *Orchestrator) onSLAViolation(e sla.ViolationEvent) {
	o.updateHealth(e.Symbol, domain.HealthUnhealthy, "SLA freshness violation")
}

func (o *Orchestrator) onSLARecovery(e sla.RecoveryEvent) {
	o.updateHealth(e.Symbol, domain.HealthHealthy, "")
}

// touch records that an event for symbol arrived at ts, upserting a fresh
// Healthy entry if none exists, without otherwise disturbing a state/issue
// set moments earlier in the same call by a detector listener (see
// DESIGN.md's Open Question decision on processTrade/processQuote vs.
// updateHealth call cardinality).
func (o *Orchestrator) touch(symbol domain.Symbol, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	h, ok := o.health[symbol]
	if !ok {
		o.health[symbol] = &domain.SymbolHealth{
			Symbol:    symbol,
			State:     domain.HealthHealthy,
			Score:     1.0,
			LastEvent: ts,
		}
		return
	}
	h.LastEvent = ts
	h.TimeSinceLastEvent = 0
}

// updateHealth implements spec.md §4.J's updateHealth upsert semantics.
func (o *Orchestrator) updateHealth(symbol domain.Symbol, state domain.HealthState, issue string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	h, ok := o.health[symbol]
	if !ok {
		score := 1.0
		if state != domain.HealthHealthy {
			score = 0.5
		}
		var issues []string
		if issue != "" {
			issues = []string{issue}
		}
		o.health[symbol] = &domain.SymbolHealth{
			Symbol:       symbol,
			State:        state,
			Score:        score,
			LastEvent:    time.Now(),
			ActiveIssues: issues,
		}
		return
	}

	h.State = state
	if state != domain.HealthHealthy {
		h.Score = 0.5
	} else {
		h.Score = 1.0
	}
	if issue != "" {
		h.ActiveIssues = domain.AppendIssue(h.ActiveIssues, issue)
	}
	if state == domain.HealthHealthy {
		h.ActiveIssues = nil
	}
}

// Start launches the 5-second stale-promotion and metrics-snapshot
// ticker. Cancel via ctx or Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		ticker := time.NewTicker(staleTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				o.tick(now)
			}
		}
	}()
}

// Stop halts the ticker and waits for it to exit.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

func (o *Orchestrator) tick(now time.Time) {
	o.mu.Lock()
	for symbol, h := range o.health {
		h.TimeSinceLastEvent = now.Sub(h.LastEvent)
		threshold := time.Duration(liquidity.Thresholds(o.liquidity[symbol]).StaleDataThresholdSeconds) * time.Second
		if h.TimeSinceLastEvent > threshold && h.State != domain.HealthStale {
			h.State = domain.HealthStale
			h.Score = 0.0
			h.ActiveIssues = domain.AppendIssue(h.ActiveIssues, "No recent data")
		}
	}
	o.mu.Unlock()

	o.pruneRecent(now)

	listener := o.metricsListener
	if listener != nil {
		listener(o.snapshot(now))
	}
}

func (o *Orchestrator) pruneRecent(now time.Time) {
	cutoff := now.Add(-recentEventRetention)
	o.recent.Lock()
	defer o.recent.Unlock()
	o.recent.gaps = pruneBefore(o.recent.gaps, cutoff)
	o.recent.errors = pruneBefore(o.recent.errors, cutoff)
	o.recent.anomalies = pruneBefore(o.recent.anomalies, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

func countSince(ts []time.Time, since time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(since) {
			n++
		}
	}
	return n
}

// snapshot builds a RealTimeQualityMetrics reading under o.mu's
// protection for the health map, and a brief lock on recent for the
// rolling windows.
func (o *Orchestrator) snapshot(now time.Time) RealTimeQualityMetrics {
	o.mu.RLock()
	entries := make([]domain.SymbolHealth, 0, len(o.health))
	var healthy, degraded int
	symbolsWithIssues := 0
	for _, h := range o.health {
		entries = append(entries, *h)
		switch h.State {
		case domain.HealthHealthy:
			healthy++
		case domain.HealthDegraded:
			degraded++
		}
		if len(h.ActiveIssues) > 0 {
			symbolsWithIssues++
		}
	}
	o.mu.RUnlock()

	n := len(entries)
	var overall float64
	if n > 0 {
		overall = (float64(healthy) + 0.5*float64(degraded)) / float64(n)
	}

	since := now.Add(-recentEventWindow)
	o.recent.Lock()
	gapCount := countSince(o.recent.gaps, since)
	errorCount := countSince(o.recent.errors, since)
	anomalyCount := countSince(o.recent.anomalies, since)
	o.recent.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].State.Rank() != entries[j].State.Rank() {
			return entries[i].State.Rank() < entries[j].State.Rank()
		}
		return entries[i].TimeSinceLastEvent > entries[j].TimeSinceLastEvent
	})
	if len(entries) > 50 {
		entries = entries[:50]
	}

	var eps float64
	if o.eventsPerSecond != nil {
		eps = o.eventsPerSecond()
	}

	return RealTimeQualityMetrics{
		Timestamp:          now,
		ActiveSymbols:      n,
		OverallHealthScore: overall,
		EventsPerSecond:    eps,
		GapCount5Min:       gapCount,
		ErrorCount5Min:     errorCount,
		AnomalyCount5Min:   anomalyCount,
		AverageLatencyMs:   o.latency.GlobalStatistics().Mean,
		SymbolsWithIssues:  symbolsWithIssues,
		TopSymbols:         entries,
	}
}

// GetRealTimeMetrics computes a snapshot on demand (spec.md §4.J's
// getRealTimeMetrics), independent of the ticker cadence.
func (o *Orchestrator) GetRealTimeMetrics() RealTimeQualityMetrics {
	return o.snapshot(time.Now())
}

// GetDashboard returns every tracked symbol's current health, unsorted.
func (o *Orchestrator) GetDashboard() []domain.SymbolHealth {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.SymbolHealth, 0, len(o.health))
	for _, h := range o.health {
		out = append(out, *h)
	}
	return out
}

// GetSymbolHealth returns a single symbol's current health.
func (o *Orchestrator) GetSymbolHealth(symbol domain.Symbol) (domain.SymbolHealth, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.health[symbol]
	if !ok {
		return domain.SymbolHealth{}, false
	}
	return *h, true
}

// GetUnhealthySymbols returns every symbol not currently Healthy.
func (o *Orchestrator) GetUnhealthySymbols() []domain.SymbolHealth {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []domain.SymbolHealth
	for _, h := range o.health {
		if h.State != domain.HealthHealthy {
			out = append(out, *h)
		}
	}
	return out
}

// trackedSymbols returns every symbol the Orchestrator currently has a
// health entry for, used as the default symbol set for report generation.
func (o *Orchestrator) trackedSymbols() []domain.Symbol {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(o.health))
	for s := range o.health {
		out = append(out, s)
	}
	return out
}

// GenerateDailyReport implements spec.md §6's
// Orchestrator.generateDailyReport(date, options) by delegating to the
// Report Generator (component I) over the same C–H instances this
// Orchestrator owns.
func (o *Orchestrator) GenerateDailyReport(date time.Time, opts report.Options) report.DailyReport {
	return o.report.GenerateDaily(date, o.trackedSymbols(), opts)
}

// GenerateWeeklyReport implements spec.md §6's
// Orchestrator.generateWeeklyReport(weekStart, options).
func (o *Orchestrator) GenerateWeeklyReport(weekStart time.Time, opts report.Options) report.WeeklyReport {
	return o.report.GenerateWeekly(weekStart, o.trackedSymbols(), opts)
}
