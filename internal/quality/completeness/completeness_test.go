package completeness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func testConfig() Config {
	return Config{
		TradingWindowStartHour:   13,
		TradingWindowStartMinute: 30,
		TradingWindowEndHour:     20,
		TradingWindowEndMinute:   0,
		ExpectedEventsPerHour:    1000,
		RetentionDays:            30,
	}
}

func TestCalculator_NoEventsGradesF(t *testing.T) {
	c := New(testConfig())
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	score := c.CalculateScore("AAPL", date, 0)
	assert.Zero(t, score.Score)
	assert.Equal(t, domain.GradeF, score.Grade)
	assert.Equal(t, int64(0), score.ActualEvents)
}

func TestCalculator_FullCoverageGradesA(t *testing.T) {
	c := New(testConfig())
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	// 390 trading minutes (13:30-20:00); one event per minute covers 100%
	// of the minute bitmap, and at expectedEventsPerHour=1 the event count
	// vastly exceeds expected, capping eventScore at 1.
	for m := 0; m < 390; m++ {
		ts := time.Date(2026, 3, 5, 13, 30, 0, 0, time.UTC).Add(time.Duration(m) * time.Minute)
		c.RecordEvent("AAPL", ts, domain.EventKindTrades)
	}

	score := c.CalculateScore("AAPL", date, 1)
	assert.Equal(t, domain.GradeA, score.Grade)
	assert.InDelta(t, 1.0, score.Score, 0.0001)
	assert.InDelta(t, 100.0, score.CoveragePercent, 0.01)
}

func TestCalculator_PartialCoverage(t *testing.T) {
	c := New(testConfig())
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	// Cover only the first 195 of 390 trading minutes (50%).
	for m := 0; m < 195; m++ {
		ts := time.Date(2026, 3, 5, 13, 30, 0, 0, time.UTC).Add(time.Duration(m) * time.Minute)
		c.RecordEvent("AAPL", ts, domain.EventKindTrades)
	}

	score := c.CalculateScore("AAPL", date, 1)
	assert.InDelta(t, 50.0, score.CoveragePercent, 0.1)
}

func TestCalculator_EventsOutsideTradingWindowDoNotCountTowardCoverage(t *testing.T) {
	c := New(testConfig())
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	// All events land before market open (13:30 UTC).
	for m := 0; m < 60; m++ {
		ts := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC).Add(time.Duration(m) * time.Minute)
		c.RecordEvent("AAPL", ts, domain.EventKindTrades)
	}

	score := c.CalculateScore("AAPL", date, 1)
	assert.Zero(t, score.CoveragePercent)
	assert.Equal(t, int64(60), score.ActualEvents)
}

func TestCalculator_CleanupDropsOldDays(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionDays = 1
	c := New(cfg)

	old := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	c.RecordEvent("AAPL", old, domain.EventKindTrades)

	c.Cleanup(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))

	score := c.CalculateScore("AAPL", old, 1)
	assert.Equal(t, int64(0), score.ActualEvents)
}
