package backfill

import (
	"sync"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// SymbolProgress is a running tally of one symbol's backfill outcomes
// (spec.md §4.M's "per-symbol progress tracker").
type SymbolProgress struct {
	Symbol          domain.Symbol
	BarsRetrieved   int
	Succeeded       int
	Failed          int
	FailureReasons  []string
}

// ProgressTracker aggregates SymbolProgress across every request the
// worker has finished processing. Safe for concurrent use.
type ProgressTracker struct {
	mu   sync.Mutex
	byID map[domain.Symbol]*SymbolProgress
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{byID: make(map[domain.Symbol]*SymbolProgress)}
}

func (p *ProgressTracker) entryLocked(symbol domain.Symbol) *SymbolProgress {
	sp, ok := p.byID[symbol]
	if !ok {
		sp = &SymbolProgress{Symbol: symbol}
		p.byID[symbol] = sp
	}
	return sp
}

// RecordSuccess credits barCount bars to symbol's running total.
func (p *ProgressTracker) RecordSuccess(symbol domain.Symbol, barCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp := p.entryLocked(symbol)
	sp.BarsRetrieved += barCount
	sp.Succeeded++
}

// RecordFailure records a failed request and its reason for symbol.
func (p *ProgressTracker) RecordFailure(symbol domain.Symbol, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp := p.entryLocked(symbol)
	sp.Failed++
	sp.FailureReasons = append(sp.FailureReasons, reason)
}

// Snapshot returns a copy of symbol's current progress, the zero value
// if nothing has been recorded for it yet.
func (p *ProgressTracker) Snapshot(symbol domain.Symbol) SymbolProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sp, ok := p.byID[symbol]; ok {
		out := *sp
		out.FailureReasons = append([]string(nil), sp.FailureReasons...)
		return out
	}
	return SymbolProgress{Symbol: symbol}
}

// All returns a snapshot of every symbol's progress.
func (p *ProgressTracker) All() []SymbolProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SymbolProgress, 0, len(p.byID))
	for _, sp := range p.byID {
		cp := *sp
		cp.FailureReasons = append([]string(nil), sp.FailureReasons...)
		out = append(out, cp)
	}
	return out
}
