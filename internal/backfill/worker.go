package backfill

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/qerr"
	"github.com/sawpanic/marketwatch/internal/ratelimit"
)

const maxRetryAttemptsPerRequest = 3

const (
	emptyPollBaseDelay = 200 * time.Millisecond
	emptyPollMaxDelay  = 10 * time.Second
	emptyPollJitter    = 0.25

	rateLimitRetryBaseDelay = 2 * time.Second
	rateLimitRetryMaxDelay  = 60 * time.Second
	rateLimitRetryJitter    = 0.25
)

// HistoricalProvider is the external historical-bar source the worker
// calls on each attempt (spec.md §6: "HistoricalProvider.getDailyBars
// (symbol, from, to) → bars[] | RateLimitError"); granularity is
// threaded through since BackfillRequest carries one.
type HistoricalProvider interface {
	GetBars(ctx context.Context, symbol domain.Symbol, from, to time.Time, granularity domain.Granularity) ([]domain.AggregateBar, error)
}

// StorageSink is the external persistence target (spec.md §6:
// "StorageSink.writeBars(symbol, bars[])").
type StorageSink interface {
	WriteBars(ctx context.Context, symbol domain.Symbol, bars []domain.AggregateBar) error
}

// Worker is the Backfill Queue & Worker (spec.md §4.M): a single
// long-lived loop that dequeues requests under a counting semaphore,
// rate-limit-gates each attempt through the shared Rate Limiter
// (component B), and retries rate-limit failures up to
// maxRetryAttemptsPerRequest before marking a request Failed; any other
// error marks the request Failed on the attempt that produced it.
//
// Grounded on the teacher's internal/net/budget.Manager (per-provider
// map-of-trackers construction) and internal/provider.RateLimiter (the
// wait-then-call admission idiom); the counting semaphore is a plain
// buffered channel, the idiomatic Go shape for "N concurrent slots"
// with no third-party library adding anything a channel doesn't
// already give for free.
type Worker struct {
	cfg      config.BackfillConfig
	queue    *Queue
	sem      chan struct{}
	limiters *ratelimit.Manager
	provider HistoricalProvider
	sink     StorageSink
	progress *ProgressTracker
	log      zerolog.Logger

	completedCh chan *domain.BackfillRequest

	mu                sync.Mutex
	running           map[string]*domain.BackfillRequest
	runningByProvider map[domain.Provider]int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	jitterFn func() float64 // overridable in tests; defaults to rand.Float64
	sleepFn  func(ctx context.Context, d time.Duration) bool
}

// New constructs a Worker. queue and limiters are borrowed; the Worker
// exclusively owns the queue's consumption (spec.md §3's ownership
// rule), not its lifecycle.
func New(cfg config.BackfillConfig, queue *Queue, limiters *ratelimit.Manager, provider HistoricalProvider, sink StorageSink, log zerolog.Logger) *Worker {
	capacity := cfg.MaxConcurrentRequests
	if capacity < 1 {
		capacity = 1
	}
	w := &Worker{
		cfg:               cfg,
		queue:             queue,
		sem:               make(chan struct{}, capacity),
		limiters:          limiters,
		provider:          provider,
		sink:              sink,
		progress:          NewProgressTracker(),
		log:               log,
		completedCh:       make(chan *domain.BackfillRequest, capacity),
		running:           make(map[string]*domain.BackfillRequest),
		runningByProvider: make(map[domain.Provider]int),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		jitterFn:          rand.Float64,
	}
	w.sleepFn = w.defaultSleep
	return w
}

// Completed exposes the completion channel for downstream consumers
// (spec.md §4.M's "completed channel for downstream consumers").
func (w *Worker) Completed() <-chan *domain.BackfillRequest {
	return w.completedCh
}

// Progress returns the worker's per-symbol progress tracker.
func (w *Worker) Progress() *ProgressTracker {
	return w.progress
}

// Enqueue adds req to the queue at priority, blocking while the queue
// is at capacity.
func (w *Worker) Enqueue(req *domain.BackfillRequest, priority int) {
	req.Priority = priority
	req.Status = domain.BackfillQueued
	w.queue.Enqueue(req)
}

// Run drives the worker loop until ctx is cancelled or Stop is called.
// It returns once every in-flight processRequest task has drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	emptyPolls := 0

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-w.stopCh:
			w.wg.Wait()
			return
		case w.sem <- struct{}{}:
		}

		req, ok := w.queue.TryDequeue()
		if !ok {
			<-w.sem
			if w.handleEmptyQueue(ctx, &emptyPolls) {
				w.wg.Wait()
				return
			}
			continue
		}

		if w.shouldDefer(req) {
			w.queue.Enqueue(req)
			<-w.sem
			if w.handleEmptyQueue(ctx, &emptyPolls) {
				w.wg.Wait()
				return
			}
			continue
		}

		emptyPolls = 0
		w.wg.Add(1)
		go func(r *domain.BackfillRequest) {
			defer w.wg.Done()
			w.processRequest(ctx, r)
		}(req)
	}
}

// handleEmptyQueue implements the "no request" branch of tryDequeue's
// contract: if every provider the rate limiter manager tracks is
// currently rate-limited, sleep until the soonest reset (or pause/resume running
// jobs if that wait exceeds the configured maximum); otherwise sleep
// with the empty-poll backoff. Returns true if the caller should stop.
func (w *Worker) handleEmptyQueue(ctx context.Context, emptyPolls *int) bool {
	if wait, limited := w.shortestTimeUntilReset(); limited {
		maxWait := time.Duration(w.cfg.MaxRateLimitWaitMinutes) * time.Minute
		if w.cfg.AutoResumeAfterRateLimit && maxWait > 0 && wait > maxWait {
			w.markRunningRateLimited()
			wait = maxWait
		}
		return !w.sleepFn(ctx, wait)
	}

	*emptyPolls++
	delay := jitteredBackoff(emptyPollBaseDelay, emptyPollMaxDelay, *emptyPolls, emptyPollJitter, w.jitterFn)
	return !w.sleepFn(ctx, delay)
}

// shortestTimeUntilReset reports the minimum TimeUntilReset across every
// provider the rate limiter manager currently tracks as explicitly
// limited. limited is false if no tracked provider is limited (an idle
// limiter manager, or one whose providers have all recovered, does not
// count as "all providers rate-limited").
func (w *Worker) shortestTimeUntilReset() (wait time.Duration, limited bool) {
	statuses := w.limiters.Status()
	if len(statuses) == 0 {
		return 0, false
	}
	for _, s := range statuses {
		if !s.IsExplicitlyLimited {
			return 0, false
		}
		if !limited || s.TimeUntilReset < wait {
			wait = s.TimeUntilReset
			limited = true
		}
	}
	return wait, limited
}

func (w *Worker) markRunningRateLimited() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, req := range w.running {
		req.Status = domain.BackfillRateLimited
	}
}

// shouldDefer reports whether req should go back on the queue rather
// than start now: its provider is over the configured per-provider
// concurrency cap, or (when autoPauseOnRateLimit is enabled) its
// provider is currently under an explicit rate-limit cooldown.
func (w *Worker) shouldDefer(req *domain.BackfillRequest) bool {
	if w.cfg.AutoPauseOnRateLimit {
		if s, ok := w.limiters.Status()[string(req.AssignedProvider)]; ok && s.IsExplicitlyLimited {
			return true
		}
	}
	if w.cfg.MaxConcurrentPerProvider > 0 {
		w.mu.Lock()
		count := w.runningByProvider[req.AssignedProvider]
		w.mu.Unlock()
		if count >= w.cfg.MaxConcurrentPerProvider {
			return true
		}
	}
	return false
}

func (w *Worker) trackRunning(req *domain.BackfillRequest) {
	w.mu.Lock()
	w.running[req.ID] = req
	w.runningByProvider[req.AssignedProvider]++
	w.mu.Unlock()
}

func (w *Worker) untrackRunning(req *domain.BackfillRequest) {
	w.mu.Lock()
	delete(w.running, req.ID)
	w.runningByProvider[req.AssignedProvider]--
	w.mu.Unlock()
}

// processRequest implements spec.md §4.M's processRequest contract.
// The semaphore slot acquired in Run is released exactly once, here,
// regardless of outcome.
func (w *Worker) processRequest(ctx context.Context, req *domain.BackfillRequest) {
	defer func() { <-w.sem }()
	w.trackRunning(req)
	defer w.untrackRunning(req)

	for {
		req.Attempt++
		req.Status = domain.BackfillInFlight

		limiter := w.limiters.Limiter(string(req.AssignedProvider))
		if _, err := limiter.WaitForSlot(ctx); err != nil {
			w.fail(req, err.Error(), false)
			return
		}

		bars, err := w.provider.GetBars(ctx, req.Symbol, req.FromDate, req.ToDate, req.Granularity)
		if err == nil {
			w.succeed(ctx, req, bars)
			return
		}

		retryAfter, isRateLimit := rateLimitRetryAfter(err)
		if !isRateLimit {
			w.fail(req, err.Error(), true)
			return
		}

		limiter.RecordRateLimitHit(retryAfter)

		if req.Attempt >= maxRetryAttemptsPerRequest {
			w.fail(req, err.Error(), true)
			return
		}

		delay := rateLimitRetryDelay(req.Attempt, retryAfter, w.jitterFn)
		if !w.sleepFn(ctx, delay) {
			w.fail(req, ctx.Err().Error(), true)
			return
		}
	}
}

// rateLimitRetryAfter reports whether err signals a rate-limit
// condition (typed or untyped, spec.md §4.M) and, if so, the honored
// retry delay — the error's own RetryAfter, or one parsed out of the
// error chain's message.
func rateLimitRetryAfter(err error) (*time.Duration, bool) {
	if rle, ok := qerr.IsRateLimit(err); ok {
		if rle.RetryAfter != nil {
			return rle.RetryAfter, true
		}
		return parseRetryAfterFromChain(err), true
	}
	if looksLikeRateLimit(err) {
		return parseRetryAfterFromChain(err), true
	}
	return nil, false
}

func rateLimitRetryDelay(attempt int, retryAfter *time.Duration, jitterFn func() float64) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	return jitteredBackoff(rateLimitRetryBaseDelay, rateLimitRetryMaxDelay, attempt, rateLimitRetryJitter, jitterFn)
}

func (w *Worker) succeed(ctx context.Context, req *domain.BackfillRequest, bars []domain.AggregateBar) {
	if err := w.sink.WriteBars(ctx, req.Symbol, bars); err != nil {
		w.fail(req, err.Error(), true)
		return
	}
	req.Status = domain.BackfillSucceeded
	req.BarsRetrieved = len(bars)
	w.progress.RecordSuccess(req.Symbol, len(bars))
	w.pushCompleted(req)
}

func (w *Worker) fail(req *domain.BackfillRequest, reason string, recordProgress bool) {
	req.Status = domain.BackfillFailed
	req.FailureReason = reason
	if recordProgress {
		w.progress.RecordFailure(req.Symbol, reason)
	}
	w.log.Warn().Str("symbol", string(req.Symbol)).Str("id", req.ID).Str("reason", reason).Msg("backfill request failed")
	w.pushCompleted(req)
}

func (w *Worker) pushCompleted(req *domain.BackfillRequest) {
	select {
	case w.completedCh <- req:
	default:
		// Consumer is behind; drop rather than block the worker loop
		// forever on a full completion channel.
		w.log.Warn().Str("id", req.ID).Msg("backfill completed channel full, dropping notification")
	}
}

func (w *Worker) defaultSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop requests cancellation and awaits orderly drain of in-flight
// tasks (spec.md §4.M: "Worker stop() requests cancellation and awaits
// orderly drain of in-flight tasks").
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.queue.Close()
	})
	<-w.doneCh
}
