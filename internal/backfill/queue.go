// Package backfill implements the Backfill Queue & Worker (spec.md
// §4.M): a bounded, priority-ordered request queue feeding a
// concurrency-limited, rate-limit-aware worker pool.
//
// Grounded on the teacher's internal/net/budget.Manager for the
// per-provider map-of-trackers shape and internal/provider.RateLimiter
// for the wait-then-consume admission idiom, generalized here to
// reuse the Rate Limiter (component B) directly rather than a second,
// parallel limiter implementation.
package backfill

import (
	"container/heap"
	"sync"

	"github.com/sawpanic/marketwatch/internal/domain"
)

type queueItem struct {
	req      *domain.BackfillRequest
	priority int
	seq      int64
}

type priorityHeap []*queueItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO within a priority tier
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*queueItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the bounded priority queue of domain.BackfillRequest values
// spec.md §4.M describes. Enqueue blocks once the queue is at capacity
// (spec.md §5: "the backfill queue is the only bounded buffer;
// producers that enqueue when full block until space is available");
// TryDequeue never blocks, matching the worker loop's "tryDequeue() —
// non-blocking" step.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    priorityHeap
	capacity int
	nextSeq  int64
	closed   bool
}

// NewQueue constructs a Queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts req ordered by req.Priority, blocking while the
// queue is full.
func (q *Queue) Enqueue(req *domain.BackfillRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return
	}
	q.nextSeq++
	heap.Push(&q.items, &queueItem{req: req, priority: req.Priority, seq: q.nextSeq})
}

// TryDequeue removes and returns the highest-priority, oldest-enqueued
// request. ok is false if the queue is currently empty.
func (q *Queue) TryDequeue() (req *domain.BackfillRequest, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*queueItem)
	q.notFull.Signal()
	return it.req, true
}

// Len reports the number of requests currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks any Enqueue callers waiting for capacity; used during
// worker shutdown so a producer never deadlocks against a stopped
// consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
}
