// Package liquidity implements the Liquidity Profile Table (spec.md
// §4.A): a pure, total function from a symbol's liquidity tier to the
// threshold parameters every other detector reads. Grounded on the
// teacher's style of small, pure config-table lookups
// (internal/quality/validator.go's QualityConfig field layout), but kept
// as a single static table rather than a YAML-driven one because spec.md
// states "the concrete table is part of the contract; deviation changes
// observable behavior."
package liquidity

import "github.com/sawpanic/marketwatch/internal/domain"

var table = map[domain.LiquidityProfile]domain.LiquidityThresholds{
	domain.LiquidityHigh: {
		GapThresholdSeconds:       60,
		ExpectedEventsPerHour:     1000,
		FreshnessThresholdSeconds: 60,
		StaleDataThresholdSeconds: 60,
		SpreadThresholdBps:        10,
		MinSamplesForStatistics:   100,
	},
	domain.LiquidityNormal: {
		GapThresholdSeconds:       120,
		ExpectedEventsPerHour:     200,
		FreshnessThresholdSeconds: 120,
		StaleDataThresholdSeconds: 120,
		SpreadThresholdBps:        50,
		MinSamplesForStatistics:   50,
	},
	domain.LiquidityLow: {
		GapThresholdSeconds:       600,
		ExpectedEventsPerHour:     20,
		FreshnessThresholdSeconds: 600,
		StaleDataThresholdSeconds: 600,
		SpreadThresholdBps:        500,
		MinSamplesForStatistics:   20,
	},
	domain.LiquidityVeryLow: {
		GapThresholdSeconds:       1800,
		ExpectedEventsPerHour:     5,
		FreshnessThresholdSeconds: 1800,
		StaleDataThresholdSeconds: 1800,
		SpreadThresholdBps:        1000,
		MinSamplesForStatistics:   10,
	},
	domain.LiquidityMinimal: {
		GapThresholdSeconds:       3600,
		ExpectedEventsPerHour:     1,
		FreshnessThresholdSeconds: 3600,
		StaleDataThresholdSeconds: 3600,
		SpreadThresholdBps:        2000,
		MinSamplesForStatistics:   5,
	},
}

// Thresholds returns the threshold parameters for profile. An unknown
// profile value falls back to High.
func Thresholds(profile domain.LiquidityProfile) domain.LiquidityThresholds {
	if t, ok := table[profile]; ok {
		return t
	}
	return table[domain.LiquidityHigh]
}

// gapBreakpointMultipliers are the duration-to-base-threshold ratio
// breakpoints that separate gap severities (spec.md §4.A): below 5x is
// Minor, below 30x is Moderate, below 60x is Significant, 60x and above
// is Major. ClassifyGapSeverity never returns Critical on its own —
// Critical is reserved for the Gap Analyzer's overnight/weekend-closure
// escalation (component C), which sees the calendar context this pure
// threshold function does not.
var gapBreakpointMultipliers = []float64{1, 5, 30, 60}

// ClassifyGapSeverity compares durationSeconds to profile's base gap
// threshold and returns the matching severity tier. A duration strictly
// below the base threshold is not a gap at all by definition (callers
// only invoke this once they've already decided a gap occurred), but the
// function itself is total: anything below the first breakpoint still
// classifies as Minor per spec.md §8's boundary rule ("exactly
// gapThresholdSeconds → Minor").
func ClassifyGapSeverity(durationSeconds float64, profile domain.LiquidityProfile) domain.GapSeverity {
	base := float64(Thresholds(profile).GapThresholdSeconds)
	if base <= 0 {
		return domain.GapMajor
	}
	ratio := durationSeconds / base

	severities := []domain.GapSeverity{
		domain.GapMinor,
		domain.GapModerate,
		domain.GapSignificant,
	}
	for i, mult := range gapBreakpointMultipliers[1:] {
		if ratio < mult {
			return severities[i]
		}
	}
	return domain.GapMajor
}
