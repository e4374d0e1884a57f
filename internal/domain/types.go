// Package domain holds the semantic types shared by every quality
// monitoring and ingestion component (spec.md §3).
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a case-insensitive identifier, always stored normalized to
// uppercase. Construct via NewSymbol rather than a raw string conversion
// so every caller gets the canonicalization in one place (Design Note:
// "Case-insensitive symbol keying").
type Symbol string

// NewSymbol canonicalizes a raw ticker to its uppercase key form.
func NewSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

func (s Symbol) String() string { return string(s) }

// Provider is a short identifier such as "polygon".
type Provider string

// EventKind distinguishes the three streamed event families.
type EventKind int

const (
	EventKindTrades EventKind = iota
	EventKindQuotes
	EventKindAggregates
)

func (k EventKind) String() string {
	switch k {
	case EventKindTrades:
		return "trades"
	case EventKindQuotes:
		return "quotes"
	case EventKindAggregates:
		return "aggregates"
	default:
		return "unknown"
	}
}

// Aggressor is the side that initiated a trade.
type Aggressor int

const (
	AggressorUnknown Aggressor = iota
	AggressorBuy
	AggressorSell
)

// Timeframe distinguishes aggregate bar granularity.
type Timeframe int

const (
	TimeframeSecond Timeframe = iota
	TimeframeMinute
	TimeframeDay
)

// LiquidityProfile classifies a symbol's expected activity level; it
// parameterizes every detector's thresholds (spec.md §4.A).
type LiquidityProfile int

const (
	LiquidityHigh LiquidityProfile = iota
	LiquidityNormal
	LiquidityLow
	LiquidityVeryLow
	LiquidityMinimal
	liquidityUnknown // never returned; forces fallback to High
)

func (p LiquidityProfile) String() string {
	switch p {
	case LiquidityHigh:
		return "High"
	case LiquidityNormal:
		return "Normal"
	case LiquidityLow:
		return "Low"
	case LiquidityVeryLow:
		return "VeryLow"
	case LiquidityMinimal:
		return "Minimal"
	default:
		return "High"
	}
}

// LiquidityThresholds parameterizes the completeness, gap, freshness and
// spread detectors for a given liquidity profile (spec.md §4.A).
type LiquidityThresholds struct {
	GapThresholdSeconds       int
	ExpectedEventsPerHour     int
	FreshnessThresholdSeconds int
	StaleDataThresholdSeconds int
	SpreadThresholdBps        int
	MinSamplesForStatistics   int
}

// TradeEvent is a single executed trade.
type TradeEvent struct {
	Symbol     Symbol
	Timestamp  time.Time
	Price      decimal.Decimal
	Volume     int64
	Sequence   *int64
	Provider   Provider
	LatencyMs  *float64
	Venue      string
	Aggressor  Aggressor
}

// QuoteEvent is a top-of-book quote. Invariant at emission: BidPrice and
// AskPrice are both > 0, enforced by the streaming client before a quote
// is published (spec.md §3).
type QuoteEvent struct {
	Symbol    Symbol
	Timestamp time.Time
	BidPrice  decimal.Decimal
	BidSize   int64
	AskPrice  decimal.Decimal
	AskSize   int64
	Provider  Provider
	LatencyMs *float64
}

// AggregateBar is an OHLCV summary over a fixed window.
//
// Invariant: High >= max(Open,Close,Low); Low <= min(Open,Close,High); all
// prices > 0; EndTime > StartTime. Bars violating this are dropped by the
// streaming client before being published (spec.md §3, §4.L).
type AggregateBar struct {
	Symbol     Symbol
	StartTime  time.Time
	EndTime    time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	VWAP       decimal.Decimal
	TradeCount int
	Timeframe  Timeframe
	Source     Provider
	Sequence   int64
}

// Valid reports whether the bar satisfies the OHLC invariant.
func (b AggregateBar) Valid() bool {
	if !b.EndTime.After(b.StartTime) {
		return false
	}
	for _, p := range []decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if p.Sign() <= 0 {
			return false
		}
	}
	maxOCL := decimalMax(b.Open, b.Close, b.Low)
	if b.High.LessThan(maxOCL) {
		return false
	}
	minOCH := decimalMin(b.Open, b.Close, b.High)
	if b.Low.GreaterThan(minOCH) {
		return false
	}
	return true
}

func decimalMax(vs ...decimal.Decimal) decimal.Decimal {
	m := vs[0]
	for _, v := range vs[1:] {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

func decimalMin(vs ...decimal.Decimal) decimal.Decimal {
	m := vs[0]
	for _, v := range vs[1:] {
		if v.LessThan(m) {
			m = v
		}
	}
	return m
}

// SubscriptionID is a provider-scoped integer identifier allocated by the
// Subscription Manager (spec.md §4.K).
type SubscriptionID int64

// Subscription is a (symbol,kind) pair with reference counting.
type Subscription struct {
	ID       SubscriptionID
	Symbol   Symbol
	Kind     EventKind
	RefCount int
}

// GapSeverity classifies how serious a detected data gap is.
type GapSeverity int

const (
	GapMinor GapSeverity = iota
	GapModerate
	GapSignificant
	GapMajor
	GapCritical
)

func (s GapSeverity) String() string {
	switch s {
	case GapMinor:
		return "Minor"
	case GapModerate:
		return "Moderate"
	case GapSignificant:
		return "Significant"
	case GapMajor:
		return "Major"
	case GapCritical:
		return "Critical"
	default:
		return "Minor"
	}
}

// DataGap is an interval longer than the per-symbol threshold during
// which no event of a given kind was observed (spec.md §4.C).
type DataGap struct {
	Symbol                Symbol
	EventKind             EventKind
	GapStart              time.Time
	GapEnd                time.Time
	Duration              time.Duration
	MissedSeqStart        *int64
	MissedSeqEnd          *int64
	EstimatedMissedEvents int64
	Severity              GapSeverity
	PossibleCause         string
}

// SequenceErrorType classifies an anomaly in a monotonic sequence stream.
type SequenceErrorType int

const (
	SeqErrGap SequenceErrorType = iota
	SeqErrOutOfOrder
	SeqErrDuplicate
	SeqErrReset
)

func (t SequenceErrorType) String() string {
	switch t {
	case SeqErrGap:
		return "Gap"
	case SeqErrOutOfOrder:
		return "OutOfOrder"
	case SeqErrDuplicate:
		return "Duplicate"
	case SeqErrReset:
		return "Reset"
	default:
		return "Gap"
	}
}

// SequenceError is emitted by the Sequence Error Tracker (spec.md §4.D).
type SequenceError struct {
	Timestamp   time.Time
	Symbol      Symbol
	EventKind   EventKind
	ErrorType   SequenceErrorType
	ExpectedSeq int64
	ActualSeq   int64
	GapSize     int64
	StreamID    string
	Provider    Provider
}

// AnomalySeverity classifies a detected data anomaly.
type AnomalySeverity int

const (
	AnomalyInfo AnomalySeverity = iota
	AnomalyWarning
	AnomalyError
	AnomalyCritical
)

func (s AnomalySeverity) String() string {
	switch s {
	case AnomalyInfo:
		return "Info"
	case AnomalyWarning:
		return "Warning"
	case AnomalyError:
		return "Error"
	case AnomalyCritical:
		return "Critical"
	default:
		return "Info"
	}
}

// AnomalyType enumerates the kinds of anomaly the Anomaly Detector can
// raise (spec.md §4.F).
type AnomalyType string

const (
	AnomalyPriceSpike       AnomalyType = "PriceSpike"
	AnomalyPriceDrop        AnomalyType = "PriceDrop"
	AnomalyRapidPriceChange AnomalyType = "RapidPriceChange"
	AnomalyVolumeSpike      AnomalyType = "VolumeSpike"
	AnomalyVolumeDrop       AnomalyType = "VolumeDrop"
	AnomalyCrossedMarket    AnomalyType = "CrossedMarket"
	AnomalySpreadWide       AnomalyType = "SpreadWide"
	AnomalyStaleData        AnomalyType = "StaleData"
)

// DataAnomaly is a single detected anomaly event.
type DataAnomaly struct {
	ID               string
	Timestamp        time.Time
	Symbol           Symbol
	Type             AnomalyType
	Severity         AnomalySeverity
	Description      string
	Expected         float64
	Actual           float64
	DeviationPercent float64
	ZScore           float64
	Acknowledged     bool
}

// CompletenessGrade is the letter grade attached to a CompletenessScore.
type CompletenessGrade string

const (
	GradeA CompletenessGrade = "A"
	GradeB CompletenessGrade = "B"
	GradeC CompletenessGrade = "C"
	GradeD CompletenessGrade = "D"
	GradeF CompletenessGrade = "F"
)

// CompletenessScore is the per-(symbol,date) coverage assessment
// (spec.md §4.E).
type CompletenessScore struct {
	Symbol          Symbol
	Date            time.Time // UTC calendar date, truncated to midnight
	Score           float64
	ExpectedEvents  float64
	ActualEvents    int64
	TradingDuration time.Duration
	CoveredDuration time.Duration
	CoveragePercent float64
	Grade           CompletenessGrade
}

// HealthState is the coarse-grained health classification of a symbol
// (spec.md §3, §4.J).
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthStale
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	case HealthStale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// rank orders states for the dashboard's (state ascending, ...) sort —
// Healthy first, Unknown last, matching spec.md §4.J's "top-50 ordered by
// state ascending".
func (s HealthState) rank() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	case HealthStale:
		return 3
	default:
		return 4
	}
}

// Rank exposes HealthState.rank for sorting packages outside domain.
func (s HealthState) Rank() int { return s.rank() }

// SymbolHealth is the Orchestrator's per-symbol rollup (spec.md §3, §4.J).
// ActiveIssues is bounded to 5 entries, insertion-ordered, deduplicated.
type SymbolHealth struct {
	Symbol              Symbol
	State               HealthState
	Score               float64
	LastEvent           time.Time
	TimeSinceLastEvent  time.Duration
	ActiveIssues        []string
}

const maxActiveIssues = 5

// AppendIssue returns a copy of issues with text appended, deduplicated
// and capped to the last maxActiveIssues entries (spec.md §4.J).
func AppendIssue(issues []string, text string) []string {
	if text == "" {
		return issues
	}
	out := make([]string, 0, len(issues)+1)
	for _, i := range issues {
		if i != text {
			out = append(out, i)
		}
	}
	out = append(out, text)
	if len(out) > maxActiveIssues {
		out = out[len(out)-maxActiveIssues:]
	}
	return out
}

// BackfillStatus is the lifecycle state of a BackfillRequest.
type BackfillStatus int

const (
	BackfillQueued BackfillStatus = iota
	BackfillInFlight
	BackfillSucceeded
	BackfillFailed
	BackfillRateLimited
)

func (s BackfillStatus) String() string {
	switch s {
	case BackfillQueued:
		return "Queued"
	case BackfillInFlight:
		return "InFlight"
	case BackfillSucceeded:
		return "Succeeded"
	case BackfillFailed:
		return "Failed"
	case BackfillRateLimited:
		return "RateLimited"
	default:
		return "Queued"
	}
}

// Granularity is the bar size requested from a historical provider.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityMinute Granularity = "minute"
)

// BackfillRequest is a single historical-bar fetch job (spec.md §3, §4.M).
type BackfillRequest struct {
	ID               string
	Symbol           Symbol
	FromDate         time.Time
	ToDate           time.Time
	Granularity      Granularity
	AssignedProvider Provider
	Priority         int // higher values dequeue first; FIFO within a tier
	Attempt          int
	Status           BackfillStatus
	BarsRetrieved    int
	FailureReason    string
}
