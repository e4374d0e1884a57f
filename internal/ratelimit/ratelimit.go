// Package ratelimit implements the per-provider sliding-window admission
// controller (spec.md §4.B). Unlike the teacher's internal/net/ratelimit,
// which wraps golang.org/x/time/rate's token bucket per host, this
// controller is hand-rolled: a token bucket cannot express an explicit,
// provider-reported cooldown (Retry-After) layered on top of a hard
// per-window cap and a minimum inter-request spacing, and spec.md §4.B's
// guarantee — no more than maxPerWindow admitted requests in any trailing
// windowSize — requires exact eviction of aged-out instants rather than a
// refill rate. See DESIGN.md for the full rationale.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Config bounds a single provider's limiter.
type Config struct {
	MaxPerWindow int
	WindowSize   time.Duration
	MinSpacing   time.Duration
}

// Status is a point-in-time snapshot of a Limiter.
type Status struct {
	RequestsInWindow   int
	Max                int
	WindowRemaining    time.Duration
	IsExplicitlyLimited bool
	TimeUntilReset      time.Duration
}

// Limiter enforces a sliding window, a minimum inter-request spacing, and
// an optional explicit cooldown for one provider. Safe for concurrent use.
type Limiter struct {
	cfg Config

	mu             sync.Mutex
	instants       *list.List // time.Time, oldest first
	cooldownUntil  time.Time
	hasCooldown    bool

	// nowFn is overridable in tests; defaults to time.Now.
	nowFn func() time.Time
}

// New constructs a Limiter for one provider.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		instants: list.New(),
		nowFn:    time.Now,
	}
}

func (l *Limiter) now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now()
}

// evictLocked drops instants older than now-windowSize. Caller holds l.mu.
func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.WindowSize)
	for e := l.instants.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			l.instants.Remove(e)
		} else {
			break // list is oldest-first and monotonically non-decreasing
		}
		e = next
	}
}

// recordRequestLocked appends now and evicts stale entries. Caller holds l.mu.
func (l *Limiter) recordRequestLocked(now time.Time) {
	l.instants.PushBack(now)
	l.evictLocked(now)
}

// RecordRequest records an admitted request at now, independent of
// waitForSlot — used when a caller has already decided the request is
// going out (e.g. replaying a burst that was separately throttled).
func (l *Limiter) RecordRequest(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordRequestLocked(now)
}

// nextEligibleLocked computes the earliest instant at which a new request
// would satisfy all three admission conditions, given the current state.
// Caller holds l.mu.
func (l *Limiter) nextEligibleLocked(now time.Time) time.Time {
	eligible := now

	if l.hasCooldown && l.cooldownUntil.After(eligible) {
		eligible = l.cooldownUntil
	}

	if l.cfg.MaxPerWindow > 0 && l.instants.Len() >= l.cfg.MaxPerWindow {
		// The window frees a slot once its oldest member ages out.
		oldest := l.instants.Front().Value.(time.Time)
		freeAt := oldest.Add(l.cfg.WindowSize)
		if freeAt.After(eligible) {
			eligible = freeAt
		}
	}

	if l.cfg.MinSpacing > 0 && l.instants.Len() > 0 {
		last := l.instants.Back().Value.(time.Time)
		spacedAt := last.Add(l.cfg.MinSpacing)
		if spacedAt.After(eligible) {
			eligible = spacedAt
		}
	}

	return eligible
}

// WaitForSlot blocks until a request may be admitted under the window,
// min-spacing, and cooldown constraints, then records it. It returns the
// duration actually waited. On context cancellation it returns ctx.Err()
// without recording anything.
func (l *Limiter) WaitForSlot(ctx context.Context) (time.Duration, error) {
	start := l.now()
	for {
		l.mu.Lock()
		now := l.now()
		l.evictLocked(now)
		eligible := l.nextEligibleLocked(now)
		if !eligible.After(now) {
			l.recordRequestLocked(now)
			l.mu.Unlock()
			return now.Sub(start), nil
		}
		wait := eligible.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.now().Sub(start), ctx.Err()
		case <-timer.C:
			// loop and re-check: another waiter or RecordRateLimitHit may
			// have moved the eligible instant while we slept.
		}
	}
}

// RecordRateLimitHit sets an explicit cooldown. If retryAfter is nil the
// cooldown defaults to the window size.
func (l *Limiter) RecordRateLimitHit(retryAfter *time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.cfg.WindowSize
	if retryAfter != nil {
		d = *retryAfter
	}
	l.cooldownUntil = l.now().Add(d)
	l.hasCooldown = true
}

// Status returns a snapshot of the limiter's current admission state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictLocked(now)

	s := Status{
		RequestsInWindow: l.instants.Len(),
		Max:              l.cfg.MaxPerWindow,
	}
	if l.instants.Len() > 0 {
		oldest := l.instants.Front().Value.(time.Time)
		remaining := oldest.Add(l.cfg.WindowSize).Sub(now)
		if remaining > 0 {
			s.WindowRemaining = remaining
		}
	}
	if l.hasCooldown && l.cooldownUntil.After(now) {
		s.IsExplicitlyLimited = true
		s.TimeUntilReset = l.cooldownUntil.Sub(now)
	}
	return s
}

// Manager owns one Limiter per provider, created lazily from a per-provider
// config map supplied at construction (config.Config.RateLimits).
type Manager struct {
	mu       sync.Mutex
	configs  map[string]Config
	limiters map[string]*Limiter
}

// NewManager builds a Manager. configs maps provider name to its Config;
// providers not present fall back to defaultConfig.
func NewManager(configs map[string]Config, defaultConfig Config) *Manager {
	m := &Manager{
		configs:  make(map[string]Config, len(configs)),
		limiters: make(map[string]*Limiter),
	}
	for name, cfg := range configs {
		m.configs[name] = cfg
	}
	if _, ok := m.configs[""]; !ok {
		m.configs[""] = defaultConfig
	}
	return m
}

// Limiter returns (creating if necessary) the Limiter for provider.
func (m *Manager) Limiter(provider string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limiters[provider]; ok {
		return l
	}
	cfg, ok := m.configs[provider]
	if !ok {
		cfg = m.configs[""]
	}
	l := New(cfg)
	m.limiters[provider] = l
	return l
}

// Status returns a snapshot for every provider the Manager has created a
// Limiter for.
func (m *Manager) Status() map[string]Status {
	m.mu.Lock()
	limiters := make(map[string]*Limiter, len(m.limiters))
	for name, l := range m.limiters {
		limiters[name] = l
	}
	m.mu.Unlock()

	out := make(map[string]Status, len(limiters))
	for name, l := range limiters {
		out[name] = l.Status()
	}
	return out
}
