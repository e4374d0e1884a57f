// Package subscription implements the Subscription Manager (spec.md
// §4.K): a reference-counted multiset of (symbol, eventKind) pairs shared
// by the Streaming Client, with dual indexes for O(1) id lookup and O(1)
// pair lookup.
//
// Grounded on the teacher's internal/quality/validator.go mutex-guarded
// map style, generalized here to two maps kept in lockstep under one
// mutex rather than one map of structs, since the id→record and
// pair→id directions are both hot paths (the Streaming Client looks up
// by id on every unsubscribe call and by pair on every subscribe call).
package subscription

import (
	"sync"

	"github.com/sawpanic/marketwatch/internal/domain"
)

type pairKey struct {
	Symbol domain.Symbol
	Kind   domain.EventKind
}

// Manager is the Subscription Manager. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	byID   map[domain.SubscriptionID]*domain.Subscription
	byPair map[pairKey]domain.SubscriptionID
	nextID domain.SubscriptionID
}

// New constructs a Manager whose allocated ids start at idBase — a
// provider-specific offset chosen by the caller so ids from different
// providers' Streaming Client instances never collide if ever compared or
// logged together.
func New(idBase domain.SubscriptionID) *Manager {
	return &Manager{
		byID:   make(map[domain.SubscriptionID]*domain.Subscription),
		byPair: make(map[pairKey]domain.SubscriptionID),
		nextID: idBase,
	}
}

// Subscribe implements spec.md §4.K's subscribe(symbol, kind): if the
// pair is already tracked, its refCount is incremented and its existing
// id returned; otherwise a new id is allocated.
func (m *Manager) Subscribe(symbol domain.Symbol, kind domain.EventKind) domain.SubscriptionID {
	id, _ := m.SubscribeDetailed(symbol, kind)
	return id
}

// SubscribeDetailed behaves like Subscribe but additionally reports
// whether this call allocated a brand-new pair (refCount 0→1) — the
// Streaming Client's cue to send a protocol-level subscribe frame,
// since a caller racing with itself must not double-send on every call.
func (m *Manager) SubscribeDetailed(symbol domain.Symbol, kind domain.EventKind) (id domain.SubscriptionID, isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{Symbol: symbol, Kind: kind}
	if id, ok := m.byPair[key]; ok {
		m.byID[id].RefCount++
		return id, false
	}

	m.nextID++
	id = m.nextID
	m.byPair[key] = id
	m.byID[id] = &domain.Subscription{ID: id, Symbol: symbol, Kind: kind, RefCount: 1}
	return id, true
}

// Unsubscribe implements spec.md §4.K's unsubscribe(id): decrements the
// record's refCount, removing it once it reaches zero. ok reports whether
// id was known at all; removed reports whether this call dropped the
// refCount to zero (the caller's cue to send a protocol-level
// unsubscribe). sub is the record's state immediately after the
// decrement.
func (m *Manager) Unsubscribe(id domain.SubscriptionID) (sub domain.Subscription, removed bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.byID[id]
	if !exists {
		return domain.Subscription{}, false, false
	}

	rec.RefCount--
	result := *rec

	if rec.RefCount <= 0 {
		delete(m.byID, id)
		delete(m.byPair, pairKey{Symbol: rec.Symbol, Kind: rec.Kind})
		result.RefCount = 0
		return result, true, true
	}

	return result, false, true
}

// HasSubscription reports whether (symbol, kind) is currently tracked.
func (m *Manager) HasSubscription(symbol domain.Symbol, kind domain.EventKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byPair[pairKey{Symbol: symbol, Kind: kind}]
	return ok
}

// GetSymbolsByKind returns every symbol currently subscribed for kind.
func (m *Manager) GetSymbolsByKind(kind domain.EventKind) []domain.Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Symbol
	for key := range m.byPair {
		if key.Kind == kind {
			out = append(out, key.Symbol)
		}
	}
	return out
}

// All returns a snapshot of every tracked subscription, for the Streaming
// Client's resubscribe-on-reconnect pass.
func (m *Manager) All() []domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Subscription, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, *rec)
	}
	return out
}
