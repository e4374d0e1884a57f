package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestManager_SubscribeAllocatesNewID(t *testing.T) {
	m := New(1000)
	id := m.Subscribe("AAPL", domain.EventKindTrades)
	assert.Greater(t, int64(id), int64(1000))
	assert.True(t, m.HasSubscription("AAPL", domain.EventKindTrades))
}

func TestManager_SubscribeSamePairReturnsExistingIDAndIncrementsRefCount(t *testing.T) {
	m := New(0)
	id1 := m.Subscribe("AAPL", domain.EventKindTrades)
	id2 := m.Subscribe("AAPL", domain.EventKindTrades)
	assert.Equal(t, id1, id2)

	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].RefCount)
}

func TestManager_UnsubscribeDecrementsAndRemovesAtZero(t *testing.T) {
	m := New(0)
	id := m.Subscribe("AAPL", domain.EventKindTrades)
	m.Subscribe("AAPL", domain.EventKindTrades) // refCount 2

	sub, removed, ok := m.Unsubscribe(id)
	require.True(t, ok)
	assert.False(t, removed)
	assert.Equal(t, 1, sub.RefCount)
	assert.True(t, m.HasSubscription("AAPL", domain.EventKindTrades))

	sub2, removed2, ok2 := m.Unsubscribe(id)
	require.True(t, ok2)
	assert.True(t, removed2)
	assert.Equal(t, 0, sub2.RefCount)
	assert.False(t, m.HasSubscription("AAPL", domain.EventKindTrades))
}

func TestManager_UnsubscribeUnknownIDReturnsNotOK(t *testing.T) {
	m := New(0)
	_, removed, ok := m.Unsubscribe(999)
	assert.False(t, ok)
	assert.False(t, removed)
}

func TestManager_GetSymbolsByKindFiltersCorrectly(t *testing.T) {
	m := New(0)
	m.Subscribe("AAPL", domain.EventKindTrades)
	m.Subscribe("MSFT", domain.EventKindTrades)
	m.Subscribe("AAPL", domain.EventKindQuotes)

	trades := m.GetSymbolsByKind(domain.EventKindTrades)
	assert.ElementsMatch(t, []domain.Symbol{"AAPL", "MSFT"}, trades)

	quotes := m.GetSymbolsByKind(domain.EventKindQuotes)
	assert.ElementsMatch(t, []domain.Symbol{"AAPL"}, quotes)
}

func TestManager_SubscribeDetailedReportsNewOnlyOnFirstCall(t *testing.T) {
	m := New(0)
	_, isNew1 := m.SubscribeDetailed("AAPL", domain.EventKindTrades)
	_, isNew2 := m.SubscribeDetailed("AAPL", domain.EventKindTrades)
	assert.True(t, isNew1)
	assert.False(t, isNew2)
}

func TestManager_DifferentProviderBasesDoNotCollide(t *testing.T) {
	a := New(0)
	b := New(100000)

	idA := a.Subscribe("AAPL", domain.EventKindTrades)
	idB := b.Subscribe("AAPL", domain.EventKindTrades)
	assert.NotEqual(t, idA, idB)
}
