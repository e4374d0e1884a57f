// Package config loads and validates the immutable configuration tree for
// the quality monitor and ingestion supervisor (spec.md §6). Grounded on
// the teacher's internal/config/guards.go LoadGuardsConfig pattern,
// modernized to os.ReadFile + yaml.v3 and collected into one validated
// value produced once at startup rather than loaded piecemeal per
// component (Design Note: "Mutable configuration records").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/marketwatch/internal/qerr"
)

// ClockWindow is an hh:mm UTC time-of-day window.
type ClockWindow struct {
	StartHour   int `yaml:"start_hour"`
	StartMinute int `yaml:"start_minute"`
	EndHour     int `yaml:"end_hour"`
	EndMinute   int `yaml:"end_minute"`
}

// Minutes returns the window's duration in minutes.
func (w ClockWindow) Minutes() int {
	return (w.EndHour*60 + w.EndMinute) - (w.StartHour*60 + w.StartMinute)
}

func defaultMarketWindow() ClockWindow {
	return ClockWindow{StartHour: 13, StartMinute: 30, EndHour: 20, EndMinute: 0}
}

// CompletenessConfig configures component E.
type CompletenessConfig struct {
	ExpectedEventsPerHour int         `yaml:"expected_events_per_hour"`
	TradingWindow         ClockWindow `yaml:"trading_window"`
	RetentionDays         int         `yaml:"retention_days"`
}

// GapConfig configures component C.
type GapConfig struct {
	GapThresholdSeconds   int         `yaml:"gap_threshold_seconds"`
	TradingWindow         ClockWindow `yaml:"trading_window"`
	ExpectedEventsPerHour int         `yaml:"expected_events_per_hour"`
	IncludeExtendedHours  bool        `yaml:"include_extended_hours"`
	PreMarketHours        float64     `yaml:"pre_market_hours"`
	AfterHoursHours       float64     `yaml:"after_hours_hours"`
	MaxGapsPerSymbol      int         `yaml:"max_gaps_per_symbol"`
	RetentionDays         int         `yaml:"retention_days"`
}

// SequenceConfig configures component D.
type SequenceConfig struct {
	GapThreshold        int64 `yaml:"gap_threshold"`
	SignificantGapSize  int64 `yaml:"significant_gap_size"`
	ResetThreshold       int64 `yaml:"reset_threshold"`
	MaxErrorsPerSymbol   int   `yaml:"max_errors_per_symbol"`
	RetentionDays        int   `yaml:"retention_days"`
}

// AnomalyConfig configures component F.
type AnomalyConfig struct {
	PriceSpikeThresholdPercent    float64 `yaml:"price_spike_threshold_percent"`
	VolumeSpikeThresholdMultiplier float64 `yaml:"volume_spike_threshold_multiplier"`
	VolumeDropThresholdMultiplier float64 `yaml:"volume_drop_threshold_multiplier"`
	SpreadThresholdPercent        float64 `yaml:"spread_threshold_percent"`
	StaleDataThresholdSeconds     int     `yaml:"stale_data_threshold_seconds"`
	RapidChangeThresholdPercent   float64 `yaml:"rapid_change_threshold_percent"`
	RapidChangeWindowSeconds      int     `yaml:"rapid_change_window_seconds"`
	ZScoreThreshold               float64 `yaml:"z_score_threshold"`
	MinSamplesForStatistics       int     `yaml:"min_samples_for_statistics"`
	EnablePriceAnomalies          bool    `yaml:"enable_price_anomalies"`
	EnableVolumeAnomalies         bool    `yaml:"enable_volume_anomalies"`
	EnableSpreadAnomalies         bool    `yaml:"enable_spread_anomalies"`
	AlertCooldownSeconds          int     `yaml:"alert_cooldown_seconds"`
}

// SLAConfig configures component H.
type SLAConfig struct {
	DefaultFreshnessThresholdSeconds  int               `yaml:"default_freshness_threshold_seconds"`
	CriticalFreshnessThresholdSeconds int               `yaml:"critical_freshness_threshold_seconds"`
	CheckIntervalSeconds              int               `yaml:"check_interval_seconds"`
	PerSymbolOverrides                map[string]int    `yaml:"per_symbol_overrides"`
	SkipOutsideMarketHours            bool              `yaml:"skip_outside_market_hours"`
	MarketOpenUTC                     ClockWindow        `yaml:"-"`
	MarketOpenHour                    int               `yaml:"market_open_hour"`
	MarketOpenMinute                  int               `yaml:"market_open_minute"`
	MarketCloseHour                   int               `yaml:"market_close_hour"`
	MarketCloseMinute                 int               `yaml:"market_close_minute"`
	WeekdaysOnly                      bool              `yaml:"weekdays_only"`
	AlertCooldownSeconds              int               `yaml:"alert_cooldown_seconds"`
}

// StreamingConfig configures the Streaming Client (component L).
type StreamingConfig struct {
	Feed                  string `yaml:"feed"` // one of stocks, options, forex, crypto
	Delayed               bool   `yaml:"delayed"`
	APIKey                string `yaml:"api_key"`
	PingIntervalSeconds   int    `yaml:"ping_interval_seconds"`
	HandshakeTimeoutSeconds int  `yaml:"handshake_timeout_seconds"`
	MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
	BaseReconnectDelayMs  int    `yaml:"base_reconnect_delay_ms"`
	MaxReconnectDelayMs   int    `yaml:"max_reconnect_delay_ms"`
	ControlFrameRatePerSec float64 `yaml:"control_frame_rate_per_sec"`
}

// BackfillConfig configures component M.
type BackfillConfig struct {
	MaxConcurrentRequests     int  `yaml:"max_concurrent_requests"`
	MaxConcurrentPerProvider  int  `yaml:"max_concurrent_per_provider"`
	AutoPauseOnRateLimit      bool `yaml:"auto_pause_on_rate_limit"`
	AutoResumeAfterRateLimit  bool `yaml:"auto_resume_after_rate_limit"`
	MaxRateLimitWaitMinutes   int  `yaml:"max_rate_limit_wait_minutes"`
}

// RateLimitConfig configures a single provider's sliding-window limiter
// (component B).
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"`
	WindowSize   time.Duration `yaml:"window_size"`
	MinSpacing   time.Duration `yaml:"min_spacing"`
}

// HistoricalProviderConfig configures the REST historical-bar provider
// the Backfill Worker (component M) pulls from.
type HistoricalProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// CacheConfig configures the Redis-backed historical-bar cache fronting
// HistoricalProviderConfig's REST client.
type CacheConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// UniverseConfig names the symbols the ingestion supervisor watches and
// each one's liquidity tier, consulted by every detector's threshold
// lookups (spec.md §4.A).
type UniverseConfig struct {
	Symbols         []string `yaml:"symbols"`
	LowLiquidity    []string `yaml:"low_liquidity_symbols"`
}

// Config is the full, validated, immutable configuration tree.
type Config struct {
	Completeness CompletenessConfig         `yaml:"completeness"`
	Gap          GapConfig                  `yaml:"gap"`
	Sequence     SequenceConfig             `yaml:"sequence"`
	Anomaly      AnomalyConfig              `yaml:"anomaly"`
	SLA          SLAConfig                  `yaml:"sla"`
	Streaming    StreamingConfig            `yaml:"streaming"`
	Backfill     BackfillConfig             `yaml:"backfill"`
	RateLimits   map[string]RateLimitConfig `yaml:"rate_limits"`
	HistoricalProvider HistoricalProviderConfig `yaml:"historical_provider"`
	Cache        CacheConfig                `yaml:"cache"`
	Universe     UniverseConfig             `yaml:"universe"`
}

// Default returns the configuration implied by spec.md's enumerated
// defaults (§6).
func Default() Config {
	return Config{
		Completeness: CompletenessConfig{
			ExpectedEventsPerHour: 1000,
			TradingWindow:         defaultMarketWindow(),
			RetentionDays:         30,
		},
		Gap: GapConfig{
			GapThresholdSeconds:   60,
			TradingWindow:         defaultMarketWindow(),
			ExpectedEventsPerHour: 1000,
			IncludeExtendedHours:  true,
			PreMarketHours:        5.5,
			AfterHoursHours:       4,
			MaxGapsPerSymbol:      500,
			RetentionDays:         30,
		},
		Sequence: SequenceConfig{
			GapThreshold:       1,
			SignificantGapSize: 100,
			ResetThreshold:     10000,
			MaxErrorsPerSymbol: 1000,
			RetentionDays:      7,
		},
		Anomaly: AnomalyConfig{
			PriceSpikeThresholdPercent:     5,
			VolumeSpikeThresholdMultiplier: 10,
			VolumeDropThresholdMultiplier:  0.1,
			SpreadThresholdPercent:         2,
			StaleDataThresholdSeconds:      60,
			RapidChangeThresholdPercent:    1,
			RapidChangeWindowSeconds:       5,
			ZScoreThreshold:                3,
			MinSamplesForStatistics:        100,
			EnablePriceAnomalies:           true,
			EnableVolumeAnomalies:          true,
			EnableSpreadAnomalies:          true,
			AlertCooldownSeconds:           60,
		},
		SLA: SLAConfig{
			DefaultFreshnessThresholdSeconds:  60,
			CriticalFreshnessThresholdSeconds: 300,
			CheckIntervalSeconds:              10,
			PerSymbolOverrides:                map[string]int{},
			SkipOutsideMarketHours:            true,
			MarketOpenHour:                    13,
			MarketOpenMinute:                  30,
			MarketCloseHour:                   20,
			MarketCloseMinute:                 0,
			WeekdaysOnly:                      true,
			AlertCooldownSeconds:              300,
		},
		Streaming: StreamingConfig{
			Feed:                    "stocks",
			Delayed:                 false,
			PingIntervalSeconds:     30,
			HandshakeTimeoutSeconds: 30,
			MaxReconnectAttempts:    10,
			BaseReconnectDelayMs:    2000,
			MaxReconnectDelayMs:     60000,
			ControlFrameRatePerSec:  5,
		},
		Backfill: BackfillConfig{
			MaxConcurrentRequests:    10,
			MaxConcurrentPerProvider: 4,
			AutoPauseOnRateLimit:     true,
			AutoResumeAfterRateLimit: true,
			MaxRateLimitWaitMinutes:  15,
		},
		RateLimits: map[string]RateLimitConfig{
			"polygon": {MaxPerWindow: 100, WindowSize: time.Minute, MinSpacing: 0},
		},
		HistoricalProvider: HistoricalProviderConfig{
			BaseURL:        "https://api.polygon.io",
			RequestTimeout: 10 * time.Second,
			UserAgent:      "marketwatch/1.0",
		},
		Cache: CacheConfig{
			Addr:      "localhost:6379",
			DB:        0,
			TTL:       24 * time.Hour,
			KeyPrefix: "marketwatch",
		},
		Universe: UniverseConfig{
			Symbols: []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"},
		},
	}
}

// Load reads and parses a YAML config file, layering it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &qerr.ConfigurationError{Field: "path", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &qerr.ConfigurationError{Field: "yaml", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every numeric bound the spec calls out. It returns the
// first violation found, wrapped as a *qerr.ConfigurationError.
func (c Config) Validate() error {
	if c.Backfill.MaxConcurrentRequests < 1 || c.Backfill.MaxConcurrentRequests > 100 {
		return &qerr.ConfigurationError{
			Field:  "backfill.max_concurrent_requests",
			Reason: fmt.Sprintf("must be in [1,100], got %d", c.Backfill.MaxConcurrentRequests),
		}
	}
	if c.Anomaly.MinSamplesForStatistics < 1 {
		return &qerr.ConfigurationError{Field: "anomaly.min_samples_for_statistics", Reason: "must be >= 1"}
	}
	if c.Gap.MaxGapsPerSymbol < 1 {
		return &qerr.ConfigurationError{Field: "gap.max_gaps_per_symbol", Reason: "must be >= 1"}
	}
	if c.SLA.CheckIntervalSeconds < 1 {
		return &qerr.ConfigurationError{Field: "sla.check_interval_seconds", Reason: "must be >= 1"}
	}
	switch c.Streaming.Feed {
	case "stocks", "options", "forex", "crypto":
	default:
		return &qerr.ConfigurationError{Field: "streaming.feed", Reason: fmt.Sprintf("must be one of stocks, options, forex, crypto, got %q", c.Streaming.Feed)}
	}
	if c.Streaming.MaxReconnectAttempts < 1 {
		return &qerr.ConfigurationError{Field: "streaming.max_reconnect_attempts", Reason: "must be >= 1"}
	}
	for name, rl := range c.RateLimits {
		if rl.MaxPerWindow < 1 {
			return &qerr.ConfigurationError{Field: fmt.Sprintf("rate_limits.%s.max_per_window", name), Reason: "must be >= 1"}
		}
		if rl.WindowSize <= 0 {
			return &qerr.ConfigurationError{Field: fmt.Sprintf("rate_limits.%s.window_size", name), Reason: "must be > 0"}
		}
	}
	return nil
}

// MarketWindow returns the SLA config's market hours as a ClockWindow.
func (c SLAConfig) MarketWindow() ClockWindow {
	return ClockWindow{
		StartHour:   c.MarketOpenHour,
		StartMinute: c.MarketOpenMinute,
		EndHour:     c.MarketCloseHour,
		EndMinute:   c.MarketCloseMinute,
	}
}
