package main

import (
	"time"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/anomaly"
	"github.com/sawpanic/marketwatch/internal/quality/completeness"
	"github.com/sawpanic/marketwatch/internal/quality/gap"
	"github.com/sawpanic/marketwatch/internal/quality/sequence"
	"github.com/sawpanic/marketwatch/internal/quality/sla"
	"github.com/sawpanic/marketwatch/internal/ratelimit"
	streamclient "github.com/sawpanic/marketwatch/internal/streaming/client"
)

// The component packages each carry their own local Config shape rather
// than importing internal/config directly, so each field a component
// Config carries has a small conversion here — the one place that shape
// mismatch (nested ClockWindow vs flattened hour/minute fields,
// map[string]int vs map[domain.Symbol]int) is paid. YAML fields with no
// counterpart in a component Config (for example the gap section's
// threshold and expected-rate fields, whose values come from the
// liquidity table) are not read here.

func gapConfig(c config.GapConfig) gap.Config {
	return gap.Config{
		TradingWindowStartHour:   c.TradingWindow.StartHour,
		TradingWindowStartMinute: c.TradingWindow.StartMinute,
		TradingWindowEndHour:     c.TradingWindow.EndHour,
		TradingWindowEndMinute:   c.TradingWindow.EndMinute,
		MaxGapsPerSymbol:         c.MaxGapsPerSymbol,
		RetentionDays:            c.RetentionDays,
	}
}

func sequenceConfig(c config.SequenceConfig) sequence.Config {
	return sequence.Config{
		GapThreshold:       c.GapThreshold,
		SignificantGapSize: c.SignificantGapSize,
		ResetThreshold:     c.ResetThreshold,
		MaxErrorsPerSymbol: c.MaxErrorsPerSymbol,
	}
}

func completenessConfig(c config.CompletenessConfig) completeness.Config {
	return completeness.Config{
		TradingWindowStartHour:   c.TradingWindow.StartHour,
		TradingWindowStartMinute: c.TradingWindow.StartMinute,
		TradingWindowEndHour:     c.TradingWindow.EndHour,
		TradingWindowEndMinute:   c.TradingWindow.EndMinute,
		ExpectedEventsPerHour:    c.ExpectedEventsPerHour,
		RetentionDays:            c.RetentionDays,
	}
}

func anomalyConfig(c config.AnomalyConfig) anomaly.Config {
	return anomaly.Config{
		PriceSpikeThresholdPercent:     c.PriceSpikeThresholdPercent,
		VolumeSpikeThresholdMultiplier: c.VolumeSpikeThresholdMultiplier,
		VolumeDropThresholdMultiplier:  c.VolumeDropThresholdMultiplier,
		SpreadThresholdPercent:         c.SpreadThresholdPercent,
		RapidChangeThresholdPercent:    c.RapidChangeThresholdPercent,
		RapidChangeWindowSeconds:       c.RapidChangeWindowSeconds,
		ZScoreThreshold:                c.ZScoreThreshold,
		MinSamplesForStatistics:        c.MinSamplesForStatistics,
		EnablePriceAnomalies:           c.EnablePriceAnomalies,
		EnableVolumeAnomalies:          c.EnableVolumeAnomalies,
		EnableSpreadAnomalies:          c.EnableSpreadAnomalies,
		AlertCooldownSeconds:           c.AlertCooldownSeconds,
	}
}

func slaConfig(c config.SLAConfig) sla.Config {
	overrides := make(map[domain.Symbol]int, len(c.PerSymbolOverrides))
	for sym, secs := range c.PerSymbolOverrides {
		overrides[domain.Symbol(sym)] = secs
	}
	return sla.Config{
		DefaultFreshnessThresholdSeconds: c.DefaultFreshnessThresholdSeconds,
		PerSymbolOverrideSeconds:         overrides,
		SkipOutsideMarketHours:           c.SkipOutsideMarketHours,
		MarketOpenHour:                   c.MarketOpenHour,
		MarketOpenMinute:                 c.MarketOpenMinute,
		MarketCloseHour:                  c.MarketCloseHour,
		MarketCloseMinute:                c.MarketCloseMinute,
		WeekdaysOnly:                     c.WeekdaysOnly,
		AlertCooldownSeconds:             c.AlertCooldownSeconds,
	}
}

func streamingConfig(c config.StreamingConfig) streamclient.Config {
	feed := streamclient.Feed(c.Feed)
	return streamclient.Config{
		Feed:                   feed,
		Delayed:                c.Delayed,
		APIKey:                 c.APIKey,
		PingInterval:           secondsOr(c.PingIntervalSeconds, 30),
		HandshakeTimeout:       secondsOr(c.HandshakeTimeoutSeconds, 30),
		MaxReconnectAttempts:   c.MaxReconnectAttempts,
		BaseReconnectDelay:     millisOr(c.BaseReconnectDelayMs, 2000),
		MaxReconnectDelay:      millisOr(c.MaxReconnectDelayMs, 60000),
		ControlFrameRatePerSec: c.ControlFrameRatePerSec,
	}
}

// rateLimitConfigs converts the YAML-facing rate limit map to
// ratelimit.Config, keeping the provider name keys unchanged.
func rateLimitConfigs(m map[string]config.RateLimitConfig) map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(m))
	for provider, rl := range m {
		out[provider] = ratelimit.Config(rl)
	}
	return out
}

// liquidityProfiles maps config.UniverseConfig's flat symbol lists to the
// per-symbol liquidity tier RegisterSymbolLiquidity expects: every watched
// symbol defaults to high liquidity unless it's named in LowLiquidity.
func liquidityProfiles(u config.UniverseConfig) map[domain.Symbol]domain.LiquidityProfile {
	low := make(map[string]bool, len(u.LowLiquidity))
	for _, s := range u.LowLiquidity {
		low[s] = true
	}
	profiles := make(map[domain.Symbol]domain.LiquidityProfile, len(u.Symbols))
	for _, s := range u.Symbols {
		profile := domain.LiquidityHigh
		if low[s] {
			profile = domain.LiquidityLow
		}
		profiles[domain.Symbol(s)] = profile
	}
	return profiles
}

func secondsOr(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func millisOr(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Millisecond
}
