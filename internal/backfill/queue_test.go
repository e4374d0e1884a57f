package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func req(id string, priority int) *domain.BackfillRequest {
	return &domain.BackfillRequest{ID: id, Symbol: "AAPL", Priority: priority}
}

func TestQueue_HigherPriorityDequeuesFirst(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(req("low", 1))
	q.Enqueue(req("high", 5))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "high", first.ID)

	second, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "low", second.ID)
}

func TestQueue_FIFOWithinSamePriority(t *testing.T) {
	q := NewQueue(0)
	q.Enqueue(req("a", 1))
	q.Enqueue(req("b", 1))
	q.Enqueue(req("c", 1))

	var order []string
	for {
		r, ok := q.TryDequeue()
		if !ok {
			break
		}
		order = append(order, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestQueue_TryDequeueEmptyReturnsFalse(t *testing.T) {
	q := NewQueue(0)
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_EnqueueBlocksUntilCapacityFrees(t *testing.T) {
	q := NewQueue(1)
	q.Enqueue(req("a", 0))

	done := make(chan struct{})
	go func() {
		q.Enqueue(req("b", 0))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue should have blocked at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not unblock after capacity freed")
	}
	assert.Equal(t, 1, q.Len())
}
