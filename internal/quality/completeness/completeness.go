// Package completeness implements the Completeness Calculator (spec.md
// §4.E): per-(symbol, date) event counting and minute-coverage tracking,
// reduced on demand into a weighted completeness score and letter grade.
//
// Grounded on the teacher's internal/quality/validator.go scoring-weight
// pattern (ScoringWeights, ScoringThresholds) translated into spec.md's
// fixed 0.7/0.3 event/coverage split and A/B/C/D/F grade bands.
package completeness

import (
	"math"
	"sync"
	"time"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// Config configures the Completeness Calculator (component E's slice of
// spec.md §6).
type Config struct {
	TradingWindowStartHour   int
	TradingWindowStartMinute int
	TradingWindowEndHour     int
	TradingWindowEndMinute   int
	ExpectedEventsPerHour    int
	RetentionDays            int
}

type dayKey struct {
	Symbol domain.Symbol
	Year   int
	Month  time.Month
	Day    int
}

type dayState struct {
	eventCount     int64
	coveredMinutes map[int]struct{} // minute-of-day, 0-1439
	firstEvent     time.Time
	lastEvent      time.Time
}

// Calculator is the Completeness Calculator. Safe for concurrent use.
type Calculator struct {
	cfg Config

	mu   sync.Mutex
	days map[dayKey]*dayState
}

// New constructs a Calculator.
func New(cfg Config) *Calculator {
	return &Calculator{cfg: cfg, days: make(map[dayKey]*dayState)}
}

func keyFor(symbol domain.Symbol, ts time.Time) dayKey {
	y, m, d := ts.UTC().Date()
	return dayKey{Symbol: symbol, Year: y, Month: m, Day: d}
}

// RecordEvent implements spec.md §4.E's recordEvent operation. kind is
// accepted for symmetry with the other detectors' signatures but does not
// affect the score (any event kind counts toward completeness).
func (c *Calculator) RecordEvent(symbol domain.Symbol, ts time.Time, kind domain.EventKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(symbol, ts)
	st, ok := c.days[key]
	if !ok {
		st = &dayState{coveredMinutes: make(map[int]struct{})}
		c.days[key] = st
	}

	st.eventCount++
	minuteOfDay := ts.UTC().Hour()*60 + ts.UTC().Minute()
	st.coveredMinutes[minuteOfDay] = struct{}{}

	if st.firstEvent.IsZero() || ts.Before(st.firstEvent) {
		st.firstEvent = ts
	}
	if ts.After(st.lastEvent) {
		st.lastEvent = ts
	}
}

// gradeFor maps a score to its letter grade per spec.md §4.E's thresholds.
func gradeFor(score float64) domain.CompletenessGrade {
	switch {
	case score >= 0.95:
		return domain.GradeA
	case score >= 0.85:
		return domain.GradeB
	case score >= 0.70:
		return domain.GradeC
	case score >= 0.50:
		return domain.GradeD
	default:
		return domain.GradeF
	}
}

func roundTo4dp(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// CalculateScore implements spec.md §4.E's calculateScore operation for a
// single (symbol, date). expectedEventsPerHour overrides the Config
// default when non-zero (derived from the symbol's liquidity profile by
// the caller).
func (c *Calculator) CalculateScore(symbol domain.Symbol, date time.Time, expectedEventsPerHour int) domain.CompletenessScore {
	c.mu.Lock()
	key := keyFor(symbol, date)
	st, ok := c.days[key]
	var eventCount int64
	var coveredCount int
	if ok {
		eventCount = st.eventCount
		coveredCount = len(st.coveredMinutes)
	}
	c.mu.Unlock()

	startMin := c.cfg.TradingWindowStartHour*60 + c.cfg.TradingWindowStartMinute
	endMin := c.cfg.TradingWindowEndHour*60 + c.cfg.TradingWindowEndMinute
	marketMinutes := endMin - startMin
	if marketMinutes < 0 {
		marketMinutes = 0
	}
	tradingHours := float64(marketMinutes) / 60.0

	eventsPerHour := expectedEventsPerHour
	if eventsPerHour == 0 {
		eventsPerHour = c.cfg.ExpectedEventsPerHour
	}
	expectedEvents := tradingHours * float64(eventsPerHour)

	var eventScore float64
	if expectedEvents == 0 {
		if eventCount > 0 {
			eventScore = 1
		}
	} else {
		eventScore = math.Min(1, float64(eventCount)/expectedEvents)
	}

	coveredInWindow := 0
	if ok {
		for minute := range st.coveredMinutes {
			if minute >= startMin && minute < endMin {
				coveredInWindow++
			}
		}
	}
	var coverageScore float64
	if marketMinutes > 0 {
		coverageScore = float64(coveredInWindow) / float64(marketMinutes)
	}

	score := roundTo4dp(0.7*eventScore + 0.3*coverageScore)

	var coveredDuration time.Duration
	if ok {
		coveredDuration = time.Duration(coveredCount) * time.Minute
	}

	return domain.CompletenessScore{
		Symbol:          symbol,
		Date:            time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC),
		Score:           score,
		ExpectedEvents:  expectedEvents,
		ActualEvents:    eventCount,
		TradingDuration: time.Duration(marketMinutes) * time.Minute,
		CoveredDuration: coveredDuration,
		CoveragePercent: roundTo4dp(coverageScore * 100),
		Grade:           gradeFor(score),
	}
}

// Cleanup drops per-day state older than RetentionDays, relative to now.
// Intended to run on a daily tick.
func (c *Calculator) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.AddDate(0, 0, -c.cfg.RetentionDays)
	for key, st := range c.days {
		day := time.Date(key.Year, key.Month, key.Day, 0, 0, 0, 0, time.UTC)
		if day.Before(cutoff) {
			delete(c.days, key)
		}
		_ = st
	}
}
