// Package report implements the Report Generator (component I): rolls up
// components C–H into a daily or weekly quality report and serializes it
// to JSON (authoritative per spec.md §6), plus CSV and Markdown exports
// (SUPPLEMENTED FEATURES — simple, dependency-free derived views; HTML
// stays out per spec.md §1's "export formatting" exclusion).
//
// Grounded on the teacher's reporting conventions in internal/metrics
// (plain-struct snapshots serialized wholesale) rather than any single
// file, since the teacher repo has no direct report-generator analogue.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/anomaly"
	"github.com/sawpanic/marketwatch/internal/quality/completeness"
	"github.com/sawpanic/marketwatch/internal/quality/gap"
	"github.com/sawpanic/marketwatch/internal/quality/latency"
	"github.com/sawpanic/marketwatch/internal/quality/sequence"
	"github.com/sawpanic/marketwatch/internal/quality/sla"
)

// Options controls what a generated report includes.
type Options struct {
	IncludeTimeline       bool
	ExpectedEventsPerHour int
	PreMarketHours        float64
	AfterHoursHours       float64
	GapConfig             gap.Config
}

// SymbolReport is a single symbol's rolled-up quality picture for a day.
type SymbolReport struct {
	Symbol          domain.Symbol
	Completeness    domain.CompletenessScore
	GapStats        gap.Stats
	SequenceSummary sequence.SymbolSummary
	Anomalies       []domain.DataAnomaly
	Latency         latency.Stats
	SLAState        string
	SLAViolations   int64
	Timeline        []gap.Segment `json:",omitempty"`
}

// OverallStats summarizes a report's SymbolReports.
type OverallStats struct {
	SymbolCount              int
	AverageCompletenessScore float64
	TotalGaps                int
	TotalSequenceErrors      int64
	TotalAnomalies           int
	AverageLatencyMs         float64
}

// DailyReport is the output of GenerateDaily.
type DailyReport struct {
	Date        time.Time
	GeneratedAt time.Time
	Symbols     []SymbolReport
	Overall     OverallStats
}

// WeeklyReport is the output of GenerateWeekly: seven DailyReports plus a
// week-wide rollup.
type WeeklyReport struct {
	WeekStart   time.Time
	GeneratedAt time.Time
	Days        []DailyReport
	Overall     OverallStats
}

// Generator reads from components C–H (already constructed and wired to
// live traffic elsewhere) to build point-in-time reports; it owns none of
// their state.
type Generator struct {
	gap          *gap.Analyzer
	seq          *sequence.Tracker
	completeness *completeness.Calculator
	anomaly      *anomaly.Detector
	latency      *latency.Histogram
	sla          *sla.Monitor
	now          func() time.Time
}

// New constructs a Generator over the given detector components.
func New(
	gapAnalyzer *gap.Analyzer,
	seqTracker *sequence.Tracker,
	completenessCalc *completeness.Calculator,
	anomalyDetector *anomaly.Detector,
	latencyHist *latency.Histogram,
	slaMonitor *sla.Monitor,
) *Generator {
	return &Generator{
		gap: gapAnalyzer, seq: seqTracker, completeness: completenessCalc,
		anomaly: anomalyDetector, latency: latencyHist, sla: slaMonitor,
		now: time.Now,
	}
}

func (g *Generator) symbolReport(symbol domain.Symbol, date time.Time, opts Options) SymbolReport {
	score := g.completeness.CalculateScore(symbol, date, opts.ExpectedEventsPerHour)
	gaps := g.gap.GapsForSymbolDate(symbol, date)
	gapStats := gap.AggregateStats(gaps, 5)
	seqSummary := g.seq.SummaryForSymbol(symbol)
	anomalies := g.anomaly.RecentAnomalies(symbol)
	latencyStats := g.latency.StatsForSymbol(symbol)
	slaState := g.sla.StateOf(symbol)
	violations := g.sla.ViolationCount(symbol)

	sr := SymbolReport{
		Symbol:          symbol,
		Completeness:    score,
		GapStats:        gapStats,
		SequenceSummary: seqSummary,
		Anomalies:       anomalies,
		Latency:         latencyStats,
		SLAState:        slaState.String(),
		SLAViolations:   violations,
	}
	if opts.IncludeTimeline {
		sr.Timeline = gap.BuildTimeline(date, gaps, opts.GapConfig, opts.PreMarketHours, opts.AfterHoursHours, opts.ExpectedEventsPerHour)
	}
	return sr
}

func aggregate(symbols []SymbolReport) OverallStats {
	stats := OverallStats{SymbolCount: len(symbols)}
	if len(symbols) == 0 {
		return stats
	}
	var completenessSum, latencySum float64
	var latencyCount int
	for _, s := range symbols {
		completenessSum += s.Completeness.Score
		stats.TotalGaps += s.GapStats.Total
		stats.TotalSequenceErrors += sumCounts(s.SequenceSummary.CountsByType)
		stats.TotalAnomalies += len(s.Anomalies)
		if s.Latency.Count > 0 {
			latencySum += s.Latency.Mean
			latencyCount++
		}
	}
	stats.AverageCompletenessScore = completenessSum / float64(len(symbols))
	if latencyCount > 0 {
		stats.AverageLatencyMs = latencySum / float64(latencyCount)
	}
	return stats
}

func sumCounts(counts map[domain.SequenceErrorType]int64) int64 {
	var total int64
	for _, c := range counts {
		total += c
	}
	return total
}

// GenerateDaily implements spec.md §6's generateDailyReport(date, options).
func (g *Generator) GenerateDaily(date time.Time, symbols []domain.Symbol, opts Options) DailyReport {
	sorted := append([]domain.Symbol(nil), symbols...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	reports := make([]SymbolReport, 0, len(sorted))
	for _, symbol := range sorted {
		reports = append(reports, g.symbolReport(symbol, date, opts))
	}

	return DailyReport{
		Date:        date,
		GeneratedAt: g.now(),
		Symbols:     reports,
		Overall:     aggregate(reports),
	}
}

// GenerateWeekly implements spec.md §6's generateWeeklyReport(weekStart,
// options): seven consecutive daily reports starting at weekStart, plus a
// rollup across every symbol-day in the week.
func (g *Generator) GenerateWeekly(weekStart time.Time, symbols []domain.Symbol, opts Options) WeeklyReport {
	days := make([]DailyReport, 0, 7)
	var allSymbolReports []SymbolReport
	for i := 0; i < 7; i++ {
		day := g.GenerateDaily(weekStart.AddDate(0, 0, i), symbols, opts)
		days = append(days, day)
		allSymbolReports = append(allSymbolReports, day.Symbols...)
	}

	return WeeklyReport{
		WeekStart:   weekStart,
		GeneratedAt: g.now(),
		Days:        days,
		Overall:     aggregate(allSymbolReports),
	}
}

// JSONFilename returns the spec.md §6 file-naming convention for a daily
// report: "quality_report_<YYYY-MM-DD>.json".
func JSONFilename(date time.Time) string {
	return fmt.Sprintf("quality_report_%s.json", date.Format("2006-01-02"))
}

// WeeklyJSONFilename returns "weekly_quality_report_<YYYY-MM-DD>.json".
func WeeklyJSONFilename(weekStart time.Time) string {
	return fmt.Sprintf("weekly_quality_report_%s.json", weekStart.Format("2006-01-02"))
}

// ExportJSON serializes any report value as indented JSON, the
// authoritative persisted format per spec.md §6.
func ExportJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// ExportCSV renders a DailyReport as a flat per-symbol CSV table — a
// derived view with no re-import requirement (SUPPLEMENTED FEATURES).
func ExportCSV(r DailyReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"symbol", "completeness_score", "completeness_grade",
		"gap_count", "sequence_errors", "anomaly_count",
		"latency_p99_ms", "sla_state", "sla_violations",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, s := range r.Symbols {
		row := []string{
			string(s.Symbol),
			fmt.Sprintf("%.4f", s.Completeness.Score),
			string(s.Completeness.Grade),
			fmt.Sprintf("%d", s.GapStats.Total),
			fmt.Sprintf("%d", sumCounts(s.SequenceSummary.CountsByType)),
			fmt.Sprintf("%d", len(s.Anomalies)),
			fmt.Sprintf("%.2f", s.Latency.P99),
			s.SLAState,
			fmt.Sprintf("%d", s.SLAViolations),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportMarkdown renders a DailyReport as a Markdown table, suitable for
// pasting into a chat channel or ticket (SUPPLEMENTED FEATURES).
func ExportMarkdown(r DailyReport) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Quality Report — %s\n\n", r.Date.Format("2006-01-02"))
	fmt.Fprintf(&buf, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Symbols: %d · Avg completeness: %.3f · Total gaps: %d · Total sequence errors: %d · Total anomalies: %d · Avg latency: %.1fms\n\n",
		r.Overall.SymbolCount, r.Overall.AverageCompletenessScore, r.Overall.TotalGaps,
		r.Overall.TotalSequenceErrors, r.Overall.TotalAnomalies, r.Overall.AverageLatencyMs)

	fmt.Fprintln(&buf, "| Symbol | Completeness | Grade | Gaps | Seq Errors | Anomalies | P99 (ms) | SLA | Violations |")
	fmt.Fprintln(&buf, "|---|---|---|---|---|---|---|---|---|")
	for _, s := range r.Symbols {
		fmt.Fprintf(&buf, "| %s | %.4f | %s | %d | %d | %d | %.2f | %s | %d |\n",
			s.Symbol, s.Completeness.Score, s.Completeness.Grade, s.GapStats.Total,
			sumCounts(s.SequenceSummary.CountsByType), len(s.Anomalies), s.Latency.P99,
			s.SLAState, s.SLAViolations)
	}
	return buf.Bytes()
}
