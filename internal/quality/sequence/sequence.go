// Package sequence implements the Sequence Error Tracker (spec.md §4.D):
// per-(symbol, eventKind, streamID) monotonic sequence checking. Each
// stream keeps a bounded recent-sequence window, cleared on reset;
// classification itself compares the incoming value against the last
// sequence only (a duplicate is a value equal to it).
//
// Grounded on the teacher's internal/quality/validator.go ValidationCounts
// (per-symbol rolling counters keyed by a mutex-guarded map) adapted to
// track sequence numbers instead of pass/fail validation outcomes.
package sequence

import (
	"sync"
	"time"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// Config configures the Sequence Error Tracker (component D's slice of
// spec.md §6).
type Config struct {
	GapThreshold       int64 // default 1: seq > lastSeq+gapThreshold triggers Gap
	SignificantGapSize int64
	ResetThreshold     int64
	MaxErrorsPerSymbol int
}

const recentWindowSize = 1000

type streamKey struct {
	Symbol    domain.Symbol
	EventKind domain.EventKind
	StreamID  string
}

type streamState struct {
	lastSeq int64 // -1 means no event seen yet
	recent  *recentRing
	checked int64
	errors  []domain.SequenceError
}

// recentRing is a bounded FIFO set of recently seen sequence numbers.
type recentRing struct {
	order []int64
	set   map[int64]struct{}
}

func newRecentRing() *recentRing {
	return &recentRing{set: make(map[int64]struct{}, recentWindowSize)}
}

func (r *recentRing) contains(seq int64) bool {
	_, ok := r.set[seq]
	return ok
}

func (r *recentRing) add(seq int64) {
	if r.contains(seq) {
		return
	}
	r.order = append(r.order, seq)
	r.set[seq] = struct{}{}
	if len(r.order) > recentWindowSize {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.set, evicted)
	}
}

func (r *recentRing) reset() {
	r.order = nil
	r.set = make(map[int64]struct{}, recentWindowSize)
}

// Tracker is the Sequence Error Tracker. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	byKey     map[streamKey]*streamState
	globalCounts map[domain.SequenceErrorType]int64
}

// New constructs a Tracker.
func New(cfg Config) *Tracker {
	if cfg.GapThreshold == 0 {
		cfg.GapThreshold = 1
	}
	return &Tracker{
		cfg:          cfg,
		byKey:        make(map[streamKey]*streamState),
		globalCounts: make(map[domain.SequenceErrorType]int64),
	}
}

// CheckSequence implements spec.md §4.D's checkSequence operation. It
// returns the detected SequenceError, or nil if the sequence was normal.
func (t *Tracker) CheckSequence(symbol domain.Symbol, kind domain.EventKind, streamID string, seq int64, ts time.Time, provider domain.Provider) *domain.SequenceError {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := streamKey{Symbol: symbol, EventKind: kind, StreamID: streamID}
	st, ok := t.byKey[key]
	if !ok {
		st = &streamState{lastSeq: -1, recent: newRecentRing()}
		t.byKey[key] = st
	}
	st.checked++

	if st.lastSeq == -1 {
		st.recent.add(seq)
		st.lastSeq = seq
		return nil
	}

	var result *domain.SequenceError

	switch {
	case seq == st.lastSeq:
		result = &domain.SequenceError{
			Timestamp:   ts,
			Symbol:      symbol,
			EventKind:   kind,
			ErrorType:   domain.SeqErrDuplicate,
			ExpectedSeq: st.lastSeq + 1,
			ActualSeq:   seq,
			StreamID:    streamID,
			Provider:    provider,
		}

	case seq < st.lastSeq-t.cfg.ResetThreshold:
		result = &domain.SequenceError{
			Timestamp:   ts,
			Symbol:      symbol,
			EventKind:   kind,
			ErrorType:   domain.SeqErrReset,
			ExpectedSeq: st.lastSeq + 1,
			ActualSeq:   seq,
			StreamID:    streamID,
			Provider:    provider,
		}
		st.lastSeq = seq
		st.recent.reset()

	case seq < st.lastSeq:
		result = &domain.SequenceError{
			Timestamp:   ts,
			Symbol:      symbol,
			EventKind:   kind,
			ErrorType:   domain.SeqErrOutOfOrder,
			ExpectedSeq: st.lastSeq + 1,
			ActualSeq:   seq,
			StreamID:    streamID,
			Provider:    provider,
		}

	case seq > st.lastSeq+t.cfg.GapThreshold:
		gapSize := seq - st.lastSeq - 1
		result = &domain.SequenceError{
			Timestamp:   ts,
			Symbol:      symbol,
			EventKind:   kind,
			ErrorType:   domain.SeqErrGap,
			ExpectedSeq: st.lastSeq + 1,
			ActualSeq:   seq,
			GapSize:     gapSize,
			StreamID:    streamID,
			Provider:    provider,
		}
		st.lastSeq = seq

	default:
		st.lastSeq = seq
	}

	st.recent.add(seq)

	if result != nil {
		st.errors = append(st.errors, *result)
		if max := t.cfg.MaxErrorsPerSymbol; max > 0 && len(st.errors) > max {
			st.errors = st.errors[len(st.errors)-max:]
		}
		t.globalCounts[result.ErrorType]++
	}

	return result
}

// GlobalCounts returns a snapshot of error counts by type across every
// stream the Tracker has seen.
func (t *Tracker) GlobalCounts() map[domain.SequenceErrorType]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[domain.SequenceErrorType]int64, len(t.globalCounts))
	for k, v := range t.globalCounts {
		out[k] = v
	}
	return out
}

// SymbolSummary is the per-(symbol, eventKind, streamID) error summary.
type SymbolSummary struct {
	CountsByType map[domain.SequenceErrorType]int64
	TotalChecked int64
	ErrorRate    float64
}

// SummaryForSymbol aggregates SymbolSummary across every (eventKind,
// streamID) pair recorded for a symbol, for callers (e.g. report
// generation) that don't track streams individually.
func (t *Tracker) SummaryForSymbol(symbol domain.Symbol) SymbolSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[domain.SequenceErrorType]int64)
	var checked int64
	for key, st := range t.byKey {
		if key.Symbol != symbol {
			continue
		}
		checked += st.checked
		for _, e := range st.errors {
			counts[e.ErrorType]++
		}
	}

	summary := SymbolSummary{CountsByType: counts, TotalChecked: checked}
	if checked > 0 {
		var totalErrors int64
		for _, c := range counts {
			totalErrors += c
		}
		summary.ErrorRate = float64(totalErrors) / float64(checked)
	}
	return summary
}

// Summary returns the per-stream error summary, or ok=false if the stream
// has never been seen.
func (t *Tracker) Summary(symbol domain.Symbol, kind domain.EventKind, streamID string) (SymbolSummary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.byKey[streamKey{Symbol: symbol, EventKind: kind, StreamID: streamID}]
	if !ok {
		return SymbolSummary{}, false
	}

	counts := make(map[domain.SequenceErrorType]int64)
	for _, e := range st.errors {
		counts[e.ErrorType]++
	}

	summary := SymbolSummary{CountsByType: counts, TotalChecked: st.checked}
	if st.checked > 0 {
		var totalErrors int64
		for _, c := range counts {
			totalErrors += c
		}
		summary.ErrorRate = float64(totalErrors) / float64(st.checked)
	}
	return summary, true
}
