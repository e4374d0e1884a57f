// Package sla implements the SLA Monitor (spec.md §4.H): periodic
// freshness checking against a per-symbol resolved threshold, market-hours
// gating, and violation/recovery event emission with cooldown.
//
// Grounded on the teacher's internal/metrics/freshness.go age-threshold
// state machine ("worst feed wins" promoted here to a per-symbol
// Healthy/Warning/Violation classification instead of a continuous
// penalty multiplier, since spec.md §4.H is a discrete state machine, not
// a scoring blend).
package sla

import (
	"sync"
	"time"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// State is the SLA Monitor's own per-symbol classification, distinct from
// the Orchestrator's domain.HealthState.
type State int

const (
	StateNoData State = iota
	StateHealthy
	StateWarning
	StateViolation
	StateOutsideMarketHours
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "Healthy"
	case StateWarning:
		return "Warning"
	case StateViolation:
		return "Violation"
	case StateOutsideMarketHours:
		return "OutsideMarketHours"
	default:
		return "NoData"
	}
}

// Config configures the SLA Monitor (component H's slice of spec.md §6).
type Config struct {
	DefaultFreshnessThresholdSeconds int
	PerSymbolOverrideSeconds         map[domain.Symbol]int
	SkipOutsideMarketHours           bool
	MarketOpenHour, MarketOpenMinute   int
	MarketCloseHour, MarketCloseMinute int
	WeekdaysOnly                       bool
	AlertCooldownSeconds               int
}

// ThresholdResolver supplies a per-symbol (e.g. liquidity-derived)
// freshness threshold. Check uses it after an explicit override and before
// the global default.
type ThresholdResolver func(symbol domain.Symbol) time.Duration

// ViolationEvent is emitted on the first Healthy→Violation crossing.
type ViolationEvent struct {
	Symbol    domain.Symbol
	Timestamp time.Time
	Age       time.Duration
	Threshold time.Duration
}

// RecoveryEvent is emitted when a symbol recovers from Violation.
type RecoveryEvent struct {
	Symbol           domain.Symbol
	Timestamp        time.Time
	ViolationDuration time.Duration
}

type symbolState struct {
	lastEvent       time.Time
	currentState    State
	violationCount  int64
	lastAlertAt     time.Time
	violationSince  time.Time
}

// Monitor is the SLA Monitor. Safe for concurrent use.
type Monitor struct {
	cfg Config

	mu    sync.Mutex
	byKey map[domain.Symbol]*symbolState

	onViolation func(ViolationEvent)
	onRecovery  func(RecoveryEvent)
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, byKey: make(map[domain.Symbol]*symbolState)}
}

// SetListeners installs the violation/recovery callbacks.
func (m *Monitor) SetListeners(onViolation func(ViolationEvent), onRecovery func(RecoveryEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onViolation = onViolation
	m.onRecovery = onRecovery
}

// RecordEvent updates a symbol's last-seen instant. If the symbol was in
// Violation, it emits a RecoveryEvent and transitions to Healthy.
func (m *Monitor) RecordEvent(symbol domain.Symbol, ts time.Time) {
	m.mu.Lock()
	st, ok := m.byKey[symbol]
	if !ok {
		st = &symbolState{currentState: StateNoData}
		m.byKey[symbol] = st
	}
	st.lastEvent = ts

	var recovery *RecoveryEvent
	if st.currentState == StateViolation {
		recovery = &RecoveryEvent{
			Symbol:            symbol,
			Timestamp:         ts,
			ViolationDuration: ts.Sub(st.violationSince),
		}
	}
	st.currentState = StateHealthy
	onRecovery := m.onRecovery
	m.mu.Unlock()

	if recovery != nil && onRecovery != nil {
		onRecovery(*recovery)
	}
}

// isMarketOpen reports whether now falls within the configured UTC
// open/close window (and weekday mask, if WeekdaysOnly is set).
func (c Config) isMarketOpen(now time.Time) bool {
	if c.WeekdaysOnly {
		wd := now.UTC().Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	nowMin := now.UTC().Hour()*60 + now.UTC().Minute()
	openMin := c.MarketOpenHour*60 + c.MarketOpenMinute
	closeMin := c.MarketCloseHour*60 + c.MarketCloseMinute
	return nowMin >= openMin && nowMin < closeMin
}

// resolveThreshold applies the override > resolver > default priority.
func (m *Monitor) resolveThreshold(symbol domain.Symbol, resolver ThresholdResolver) time.Duration {
	if secs, ok := m.cfg.PerSymbolOverrideSeconds[symbol]; ok {
		return time.Duration(secs) * time.Second
	}
	if resolver != nil {
		return resolver(symbol)
	}
	return time.Duration(m.cfg.DefaultFreshnessThresholdSeconds) * time.Second
}

// Check runs one SLA evaluation pass at now for every symbol known to the
// Monitor (symbols are registered implicitly by RecordEvent or
// RegisterSymbol), per spec.md §4.H's checkIntervalSeconds tick.
func (m *Monitor) Check(now time.Time, resolver ThresholdResolver) {
	marketOpen := m.cfg.isMarketOpen(now)
	if m.cfg.SkipOutsideMarketHours && !marketOpen {
		return
	}

	m.mu.Lock()
	type pending struct {
		symbol domain.Symbol
		event  ViolationEvent
	}
	var violations []pending
	onViolation := m.onViolation

	for symbol, st := range m.byKey {
		if st.lastEvent.IsZero() {
			continue
		}
		threshold := m.resolveThreshold(symbol, resolver)
		age := now.Sub(st.lastEvent)

		var desired State
		switch {
		case !marketOpen:
			desired = StateOutsideMarketHours
		case age > threshold:
			desired = StateViolation
		case age > time.Duration(0.7*float64(threshold)):
			desired = StateWarning
		default:
			desired = StateHealthy
		}

		if desired == StateViolation && st.currentState != StateViolation {
			cooldownExpired := st.lastAlertAt.IsZero() || now.Sub(st.lastAlertAt) >= time.Duration(m.cfg.AlertCooldownSeconds)*time.Second
			if cooldownExpired {
				st.violationSince = now
				st.lastAlertAt = now
				st.violationCount++
				violations = append(violations, pending{symbol: symbol, event: ViolationEvent{
					Symbol:    symbol,
					Timestamp: now,
					Age:       age,
					Threshold: threshold,
				}})
			}
		}
		st.currentState = desired
	}
	m.mu.Unlock()

	if onViolation != nil {
		for _, v := range violations {
			onViolation(v.event)
		}
	}
}

// RegisterSymbol ensures a symbol has tracked state (NoData) even before
// its first event. Check skips a symbol until RecordEvent has given it a
// last-event time, so a registered symbol stays NoData until then.
func (m *Monitor) RegisterSymbol(symbol domain.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[symbol]; !ok {
		m.byKey[symbol] = &symbolState{currentState: StateNoData}
	}
}

// ViolationCount returns the lifetime count of Healthy->Violation
// crossings recorded for a symbol.
func (m *Monitor) ViolationCount(symbol domain.Symbol) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byKey[symbol]
	if !ok {
		return 0
	}
	return st.violationCount
}

// StateOf returns the current SLA state for a symbol.
func (m *Monitor) StateOf(symbol domain.Symbol) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byKey[symbol]
	if !ok {
		return StateNoData
	}
	return st.currentState
}
