package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestGapConfig_FlattensTradingWindow(t *testing.T) {
	cfg := config.GapConfig{
		TradingWindow:    config.ClockWindow{StartHour: 13, StartMinute: 30, EndHour: 20, EndMinute: 0},
		MaxGapsPerSymbol: 500,
		RetentionDays:    30,
	}
	got := gapConfig(cfg)
	assert.Equal(t, 13, got.TradingWindowStartHour)
	assert.Equal(t, 30, got.TradingWindowStartMinute)
	assert.Equal(t, 20, got.TradingWindowEndHour)
	assert.Equal(t, 500, got.MaxGapsPerSymbol)
}

func TestSLAConfig_ConvertsOverrideMapKeys(t *testing.T) {
	cfg := config.SLAConfig{
		DefaultFreshnessThresholdSeconds: 60,
		PerSymbolOverrides:               map[string]int{"AAPL": 120},
		AlertCooldownSeconds:             300,
	}
	got := slaConfig(cfg)
	assert.Equal(t, 120, got.PerSymbolOverrideSeconds[domain.Symbol("AAPL")])
	assert.Equal(t, 60, got.DefaultFreshnessThresholdSeconds)
}

func TestStreamingConfig_SecondsAndMillisToDuration(t *testing.T) {
	cfg := config.StreamingConfig{
		Feed:                    "stocks",
		PingIntervalSeconds:     30,
		HandshakeTimeoutSeconds: 15,
		BaseReconnectDelayMs:    2000,
		MaxReconnectDelayMs:     60000,
		MaxReconnectAttempts:    10,
	}
	got := streamingConfig(cfg)
	assert.Equal(t, 30*time.Second, got.PingInterval)
	assert.Equal(t, 15*time.Second, got.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, got.BaseReconnectDelay)
	assert.Equal(t, 60*time.Second, got.MaxReconnectDelay)
}

func TestStreamingConfig_ZeroFallsBackToDefault(t *testing.T) {
	got := streamingConfig(config.StreamingConfig{Feed: "crypto"})
	assert.Equal(t, 30*time.Second, got.PingInterval)
	assert.Equal(t, 2*time.Second, got.BaseReconnectDelay)
}

func TestRateLimitConfigs_PreservesProviderKeys(t *testing.T) {
	in := map[string]config.RateLimitConfig{
		"polygon": {MaxPerWindow: 100, WindowSize: time.Minute},
	}
	got := rateLimitConfigs(in)
	assert.Equal(t, 100, got["polygon"].MaxPerWindow)
	assert.Equal(t, time.Minute, got["polygon"].WindowSize)
}

func TestLiquidityProfiles_DefaultsHighUnlessListedLow(t *testing.T) {
	u := config.UniverseConfig{
		Symbols:      []string{"AAPL", "ZVZZT"},
		LowLiquidity: []string{"ZVZZT"},
	}
	got := liquidityProfiles(u)
	assert.Equal(t, domain.LiquidityHigh, got[domain.Symbol("AAPL")])
	assert.Equal(t, domain.LiquidityLow, got[domain.Symbol("ZVZZT")])
}
