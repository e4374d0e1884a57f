// Package gap implements the Gap Analyzer (spec.md §4.C): per-(symbol,
// eventKind) delta-based gap detection, severity classification, possible-
// cause inference, bounded retention, and timeline construction for
// visualization.
//
// Grounded on the teacher's internal/quality/validator.go: a
// mutex-guarded per-symbol map of rolling state plus a metrics callback
// the caller wires up, rather than a channel-based pub/sub.
package gap

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/liquidity"
)

// Config configures the Gap Analyzer (component C's slice of spec.md §6).
type Config struct {
	TradingWindowStartHour   int
	TradingWindowStartMinute int
	TradingWindowEndHour     int
	TradingWindowEndMinute   int
	MaxGapsPerSymbol         int
	RetentionDays            int
}

type streamKey struct {
	Symbol domain.Symbol
	Kind   domain.EventKind
}

type streamState struct {
	lastEvent    time.Time
	lastSeq      *int64
	gaps         []domain.DataGap
	lastSeenGap  time.Time // end of the most recent gap; Cleanup keys on lastEvent
}

// Listener is invoked synchronously whenever a gap is detected.
type Listener func(domain.DataGap)

// Analyzer is the Gap Analyzer. Safe for concurrent use.
type Analyzer struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	byKey  map[streamKey]*streamState

	listener Listener
}

// New constructs an Analyzer. log defaults to a disabled logger if zero.
func New(cfg Config, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg:   cfg,
		log:   log,
		byKey: make(map[streamKey]*streamState),
	}
}

// SetListener installs the callback invoked on every detected gap.
func (a *Analyzer) SetListener(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

// RecordEvent implements spec.md §4.C's recordEvent operation.
func (a *Analyzer) RecordEvent(symbol domain.Symbol, kind domain.EventKind, ts time.Time, sequence *int64, profile domain.LiquidityProfile) {
	a.mu.Lock()

	key := streamKey{Symbol: symbol, Kind: kind}
	st, ok := a.byKey[key]
	if !ok {
		st = &streamState{}
		a.byKey[key] = st
	}

	if st.lastEvent.IsZero() {
		st.lastEvent = ts
		st.lastSeq = sequence
		a.mu.Unlock()
		return
	}

	prev := st.lastEvent
	prevSeq := st.lastSeq
	delta := ts.Sub(prev)
	st.lastEvent = ts
	st.lastSeq = sequence

	thresholds := liquidity.Thresholds(profile)
	gapThreshold := time.Duration(thresholds.GapThresholdSeconds) * time.Second

	if delta < gapThreshold {
		a.mu.Unlock()
		return
	}

	severity := liquidity.ClassifyGapSeverity(delta.Seconds(), profile)
	if isOvernightClosure(prev, ts, a.cfg) {
		severity = domain.GapCritical
	}

	deltaHours := delta.Hours()
	estimatedMissed := int64(math.Floor(deltaHours * float64(thresholds.ExpectedEventsPerHour)))

	var missedStart, missedEnd *int64
	if prevSeq != nil {
		start := *prevSeq + 1
		missedStart = &start
		if sequence != nil {
			missedEnd = sequence
		} else {
			end := *prevSeq + estimatedMissed
			missedEnd = &end
		}
	}

	gapRecord := domain.DataGap{
		Symbol:                symbol,
		EventKind:             kind,
		GapStart:              prev,
		GapEnd:                ts,
		Duration:              delta,
		MissedSeqStart:        missedStart,
		MissedSeqEnd:          missedEnd,
		EstimatedMissedEvents: estimatedMissed,
		Severity:              severity,
		PossibleCause:         inferPossibleCause(prev, ts, delta, gapThreshold, profile, a.cfg),
	}

	st.gaps = append(st.gaps, gapRecord)
	if max := a.cfg.MaxGapsPerSymbol; max > 0 && len(st.gaps) > max {
		st.gaps = st.gaps[len(st.gaps)-max:]
	}
	st.lastSeenGap = ts

	listener := a.listener
	a.mu.Unlock()

	a.log.Warn().
		Str("symbol", string(symbol)).
		Str("kind", kind.String()).
		Dur("duration", delta).
		Str("severity", severity.String()).
		Msg("data gap detected")

	if listener != nil {
		listener(gapRecord)
	}
}

// overnightBoundaryTolerance absorbs the last trade before the close and
// the first trade after the open landing a few seconds either side of the
// nominal boundary, rather than exactly on the minute.
const overnightBoundaryTolerance = 5 * time.Minute

// isOvernightClosure reports whether [start,end) falls entirely within a
// scheduled non-trading window: the gap starts at or shortly before the
// configured close and ends at or shortly after the following day's open.
func isOvernightClosure(start, end time.Time, cfg Config) bool {
	closeSec := (cfg.TradingWindowEndHour*60 + cfg.TradingWindowEndMinute) * 60
	openSec := (cfg.TradingWindowStartHour*60 + cfg.TradingWindowStartMinute) * 60
	if closeSec <= 0 && openSec <= 0 {
		return false
	}
	toleranceSec := int(overnightBoundaryTolerance.Seconds())
	startSec := secondOfDay(start)
	endSec := secondOfDay(end)
	startedAtOrNearClose := startSec >= closeSec-toleranceSec
	endedAtOrNearOpen := endSec <= openSec+toleranceSec
	spansAtMostOneCalendarDay := end.Sub(start) <= 30*time.Hour
	return startedAtOrNearClose && endedAtOrNearOpen && spansAtMostOneCalendarDay
}

func secondOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func inferPossibleCause(start, end time.Time, delta, gapThreshold time.Duration, profile domain.LiquidityProfile, cfg Config) string {
	if isOvernightClosure(start, end, cfg) {
		return "Market closed overnight"
	}
	if delta <= 3*gapThreshold && profile >= domain.LiquidityLow {
		return "Normal quiet period for illiquid instrument"
	}
	if delta >= 30*time.Minute && delta <= 120*time.Minute {
		return "Possible connection interruption"
	}
	return "Unknown cause - investigate provider"
}

// Cleanup drops gaps older than RetentionDays and per-key state whose
// last event is older than RetentionDays. Intended to run on an hourly
// tick.
func (a *Analyzer) Cleanup(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.AddDate(0, 0, -a.cfg.RetentionDays)
	for key, st := range a.byKey {
		filtered := st.gaps[:0]
		for _, g := range st.gaps {
			if g.GapEnd.After(cutoff) {
				filtered = append(filtered, g)
			}
		}
		st.gaps = filtered

		if st.lastEvent.Before(cutoff) {
			delete(a.byKey, key)
		}
	}
}

// GapsForSymbolDate returns all gaps recorded for symbol whose GapStart
// falls on date (UTC calendar day).
func (a *Analyzer) GapsForSymbolDate(symbol domain.Symbol, date time.Time) []domain.DataGap {
	a.mu.Lock()
	defer a.mu.Unlock()

	y, m, d := date.UTC().Date()
	var out []domain.DataGap
	for key, st := range a.byKey {
		if key.Symbol != symbol {
			continue
		}
		for _, g := range st.gaps {
			gy, gm, gd := g.GapStart.UTC().Date()
			if gy == y && gm == m && gd == d {
				out = append(out, g)
			}
		}
	}
	return out
}

// GapsForDate returns all gaps across all symbols whose GapStart falls on
// date (UTC calendar day).
func (a *Analyzer) GapsForDate(date time.Time) []domain.DataGap {
	a.mu.Lock()
	defer a.mu.Unlock()

	y, m, d := date.UTC().Date()
	var out []domain.DataGap
	for _, st := range a.byKey {
		for _, g := range st.gaps {
			gy, gm, gd := g.GapStart.UTC().Date()
			if gy == y && gm == m && gd == d {
				out = append(out, g)
			}
		}
	}
	return out
}

// RecentGaps returns the n most-recent gaps across all symbols, newest
// first.
func (a *Analyzer) RecentGaps(n int) []domain.DataGap {
	a.mu.Lock()
	var all []domain.DataGap
	for _, st := range a.byKey {
		all = append(all, st.gaps...)
	}
	a.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].GapStart.After(all[j].GapStart) })
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Stats aggregates gap statistics across a set of gaps.
type Stats struct {
	Total             int
	AverageDuration    time.Duration
	MinDuration        time.Duration
	MaxDuration        time.Duration
	BySeverity         map[domain.GapSeverity]int
	TopAffectedSymbols []SymbolCount
}

// SymbolCount pairs a symbol with an occurrence count.
type SymbolCount struct {
	Symbol domain.Symbol
	Count  int
}

// AggregateStats computes Stats over gaps, returning the top n affected
// symbols.
func AggregateStats(gaps []domain.DataGap, topN int) Stats {
	stats := Stats{BySeverity: make(map[domain.GapSeverity]int)}
	if len(gaps) == 0 {
		return stats
	}

	var total time.Duration
	stats.MinDuration = gaps[0].Duration
	stats.MaxDuration = gaps[0].Duration
	counts := make(map[domain.Symbol]int)

	for _, g := range gaps {
		total += g.Duration
		if g.Duration < stats.MinDuration {
			stats.MinDuration = g.Duration
		}
		if g.Duration > stats.MaxDuration {
			stats.MaxDuration = g.Duration
		}
		stats.BySeverity[g.Severity]++
		counts[g.Symbol]++
	}

	stats.Total = len(gaps)
	stats.AverageDuration = total / time.Duration(len(gaps))

	symbolCounts := make([]SymbolCount, 0, len(counts))
	for sym, c := range counts {
		symbolCounts = append(symbolCounts, SymbolCount{Symbol: sym, Count: c})
	}
	sort.Slice(symbolCounts, func(i, j int) bool { return symbolCounts[i].Count > symbolCounts[j].Count })
	if topN < len(symbolCounts) {
		symbolCounts = symbolCounts[:topN]
	}
	stats.TopAffectedSymbols = symbolCounts

	return stats
}

// SegmentKind labels a Timeline segment.
type SegmentKind int

const (
	SegmentPreMarket SegmentKind = iota
	SegmentDataPresent
	SegmentGap
	SegmentAfterHours
)

// Segment is one piece of a session timeline.
type Segment struct {
	Kind             SegmentKind
	Start            time.Time
	End              time.Time
	EstimatedEvents  int64 // only meaningful for SegmentDataPresent
}

// BuildTimeline produces an ordered sequence of segments covering the
// extended trading window for date, given the gaps recorded within it.
// preMarketHours/afterHoursHours extend the core trading window on either
// side; expectedEventsPerHour estimates DataPresent segment event counts.
func BuildTimeline(date time.Time, gaps []domain.DataGap, cfg Config, preMarketHours, afterHoursHours float64, expectedEventsPerHour int) []Segment {
	y, m, d := date.UTC().Date()
	openAt := time.Date(y, m, d, cfg.TradingWindowStartHour, cfg.TradingWindowStartMinute, 0, 0, time.UTC)
	closeAt := time.Date(y, m, d, cfg.TradingWindowEndHour, cfg.TradingWindowEndMinute, 0, 0, time.UTC)
	preOpen := openAt.Add(-time.Duration(preMarketHours * float64(time.Hour)))
	afterClose := closeAt.Add(time.Duration(afterHoursHours * float64(time.Hour)))

	sorted := append([]domain.DataGap(nil), gaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GapStart.Before(sorted[j].GapStart) })

	var segments []Segment
	segments = append(segments, Segment{Kind: SegmentPreMarket, Start: preOpen, End: openAt})

	cursor := openAt
	for _, g := range sorted {
		if g.GapStart.Before(cursor) || !g.GapStart.Before(closeAt) {
			continue
		}
		if g.GapStart.After(cursor) {
			hours := g.GapStart.Sub(cursor).Hours()
			segments = append(segments, Segment{
				Kind:            SegmentDataPresent,
				Start:           cursor,
				End:             g.GapStart,
				EstimatedEvents: int64(hours * float64(expectedEventsPerHour)),
			})
		}
		gapEnd := g.GapEnd
		if gapEnd.After(closeAt) {
			gapEnd = closeAt
		}
		segments = append(segments, Segment{Kind: SegmentGap, Start: g.GapStart, End: gapEnd})
		cursor = gapEnd
	}
	if cursor.Before(closeAt) {
		hours := closeAt.Sub(cursor).Hours()
		segments = append(segments, Segment{
			Kind:            SegmentDataPresent,
			Start:           cursor,
			End:             closeAt,
			EstimatedEvents: int64(hours * float64(expectedEventsPerHour)),
		})
	}

	segments = append(segments, Segment{Kind: SegmentAfterHours, Start: closeAt, End: afterClose})
	return segments
}
