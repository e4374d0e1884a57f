package backfill

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/qerr"
	"github.com/sawpanic/marketwatch/internal/ratelimit"
)

type fetchCall struct {
	symbol domain.Symbol
	from   time.Time
	to     time.Time
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []fetchCall
	results []func(call int) ([]domain.AggregateBar, error)
}

func (f *fakeProvider) GetBars(_ context.Context, symbol domain.Symbol, from, to time.Time, _ domain.Granularity) ([]domain.AggregateBar, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fetchCall{symbol: symbol, from: from, to: to})
	fn := f.results[n]
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu    sync.Mutex
	bars  map[domain.Symbol][]domain.AggregateBar
	err   error
}

func (s *fakeSink) WriteBars(_ context.Context, symbol domain.Symbol, bars []domain.AggregateBar) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bars == nil {
		s.bars = make(map[domain.Symbol][]domain.AggregateBar)
	}
	s.bars[symbol] = append(s.bars[symbol], bars...)
	return nil
}

func testBackfillConfig() config.BackfillConfig {
	return config.BackfillConfig{
		MaxConcurrentRequests:    4,
		MaxConcurrentPerProvider: 0,
		AutoPauseOnRateLimit:     false,
		AutoResumeAfterRateLimit: true,
		MaxRateLimitWaitMinutes:  1,
	}
}

func newTestWorker(t *testing.T, provider HistoricalProvider, sink StorageSink) *Worker {
	t.Helper()
	limiters := ratelimit.NewManager(nil, ratelimit.Config{MaxPerWindow: 0})
	w := New(testBackfillConfig(), NewQueue(0), limiters, provider, sink, zerolog.Nop())
	w.jitterFn = func() float64 { return 0.5 }
	return w
}

func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func TestWorker_SuccessfulRequestWritesAndCompletes(t *testing.T) {
	bars := []domain.AggregateBar{{Symbol: "AAPL"}}
	provider := &fakeProvider{results: []func(int) ([]domain.AggregateBar, error){
		func(int) ([]domain.AggregateBar, error) { return bars, nil },
	}}
	sink := &fakeSink{}
	w := newTestWorker(t, provider, sink)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(&domain.BackfillRequest{ID: "r1", Symbol: "AAPL", AssignedProvider: "polygon"}, 0)

	select {
	case completed := <-w.Completed():
		assert.Equal(t, domain.BackfillSucceeded, completed.Status)
		assert.Equal(t, 1, completed.BarsRetrieved)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	snap := w.Progress().Snapshot("AAPL")
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.BarsRetrieved)
}

func TestWorker_RateLimitErrorRetriesThenSucceeds(t *testing.T) {
	retryAfter := 10 * time.Millisecond
	provider := &fakeProvider{results: []func(int) ([]domain.AggregateBar, error){
		func(int) ([]domain.AggregateBar, error) {
			return nil, &qerr.RateLimitError{Provider: "polygon", RetryAfter: &retryAfter, Message: "slow down"}
		},
		func(int) ([]domain.AggregateBar, error) { return []domain.AggregateBar{{Symbol: "AAPL"}}, nil },
	}}
	sink := &fakeSink{}
	w := newTestWorker(t, provider, sink)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(&domain.BackfillRequest{ID: "r1", Symbol: "AAPL", AssignedProvider: "polygon"}, 0)

	select {
	case completed := <-w.Completed():
		assert.Equal(t, domain.BackfillSucceeded, completed.Status)
		assert.Equal(t, 2, completed.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestWorker_ExhaustsRetriesAndFails(t *testing.T) {
	retryAfter := time.Millisecond
	always := func(int) ([]domain.AggregateBar, error) {
		return nil, &qerr.RateLimitError{Provider: "polygon", RetryAfter: &retryAfter}
	}
	provider := &fakeProvider{results: []func(int) ([]domain.AggregateBar, error){always, always, always}}
	sink := &fakeSink{}
	w := newTestWorker(t, provider, sink)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(&domain.BackfillRequest{ID: "r1", Symbol: "AAPL", AssignedProvider: "polygon"}, 0)

	select {
	case completed := <-w.Completed():
		assert.Equal(t, domain.BackfillFailed, completed.Status)
		assert.Equal(t, maxRetryAttemptsPerRequest, completed.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	assert.Equal(t, 3, provider.callCount())
}

func TestWorker_NonRateLimitErrorFailsImmediately(t *testing.T) {
	provider := &fakeProvider{results: []func(int) ([]domain.AggregateBar, error){
		func(int) ([]domain.AggregateBar, error) { return nil, assertError{"symbol not found"} },
	}}
	sink := &fakeSink{}
	w := newTestWorker(t, provider, sink)
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(&domain.BackfillRequest{ID: "r1", Symbol: "AAPL", AssignedProvider: "polygon"}, 0)

	select {
	case completed := <-w.Completed():
		assert.Equal(t, domain.BackfillFailed, completed.Status)
		assert.Equal(t, 1, completed.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	assert.Equal(t, 1, provider.callCount())
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

// TestWorker_HigherPriorityRequestDequeuesFirst holds the single
// concurrency slot busy on a blocking request, enqueues a low- then a
// high-priority request while that slot is occupied, then releases it
// and asserts the high-priority request is serviced first.
func TestWorker_HigherPriorityRequestDequeuesFirst(t *testing.T) {
	cfg := testBackfillConfig()
	cfg.MaxConcurrentRequests = 1
	limiters := ratelimit.NewManager(nil, ratelimit.Config{MaxPerWindow: 0})
	sink := &fakeSink{}

	block := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var callOrder []string
	provider := &blockingOrderProvider{block: block, started: started, mu: &mu, order: &callOrder}

	w := New(cfg, NewQueue(0), limiters, provider, sink, zerolog.Nop())
	w.jitterFn = func() float64 { return 0.5 }
	stop := runWorker(t, w)
	defer stop()

	w.Enqueue(&domain.BackfillRequest{ID: "blocker", Symbol: "IBM", AssignedProvider: "polygon"}, 0)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocker request never started")
	}

	w.Enqueue(&domain.BackfillRequest{ID: "low", Symbol: "AAPL", AssignedProvider: "polygon"}, 1)
	w.Enqueue(&domain.BackfillRequest{ID: "high", Symbol: "MSFT", AssignedProvider: "polygon"}, 10)
	close(block)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case completed := <-w.Completed():
			seen[completed.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for completions")
		}
	}
	assert.True(t, seen["blocker"])
	assert.True(t, seen["low"])
	assert.True(t, seen["high"])

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"IBM", "MSFT", "AAPL"}, callOrder)
}

// blockingOrderProvider blocks its first call (symbol IBM) until block
// is closed, letting the test enqueue competing requests while the
// worker's single concurrency slot is occupied; every call records its
// symbol in arrival order.
type blockingOrderProvider struct {
	block   chan struct{}
	started chan struct{}
	mu      *sync.Mutex
	order   *[]string

	once sync.Once
}

func (p *blockingOrderProvider) GetBars(_ context.Context, symbol domain.Symbol, _, _ time.Time, _ domain.Granularity) ([]domain.AggregateBar, error) {
	if symbol == "IBM" {
		p.once.Do(func() { close(p.started) })
		<-p.block
	}
	p.mu.Lock()
	*p.order = append(*p.order, string(symbol))
	p.mu.Unlock()
	return nil, nil
}
