package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) (func() time.Time, *time.Time) {
	cur := start
	return func() time.Time { return cur }, &cur
}

func TestLimiter_WaitForSlot_AdmitsUnderWindowCap(t *testing.T) {
	l := New(Config{MaxPerWindow: 3, WindowSize: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		waited, err := l.WaitForSlot(ctx)
		require.NoError(t, err)
		assert.Zero(t, waited, "request %d should be admitted immediately", i)
	}

	status := l.Status()
	assert.Equal(t, 3, status.RequestsInWindow)
	assert.Equal(t, 3, status.Max)
}

func TestLimiter_EvictsAgedOutInstants(t *testing.T) {
	now, cur := fakeClock(time.Unix(0, 0))
	l := New(Config{MaxPerWindow: 2, WindowSize: 10 * time.Second})
	l.nowFn = now

	l.RecordRequest(*cur)
	*cur = cur.Add(5 * time.Second)
	l.RecordRequest(*cur)

	status := l.Status()
	assert.Equal(t, 2, status.RequestsInWindow)

	*cur = cur.Add(6 * time.Second) // first instant (t=0) is now 11s old, evicted
	status = l.Status()
	assert.Equal(t, 1, status.RequestsInWindow)
}

func TestLimiter_MinSpacingDelaysSecondRequest(t *testing.T) {
	now, cur := fakeClock(time.Unix(0, 0))
	l := New(Config{MaxPerWindow: 100, WindowSize: time.Minute, MinSpacing: 200 * time.Millisecond})
	l.nowFn = now

	waited, err := l.WaitForSlot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, waited)

	// A second call with the clock frozen must be told to wait out the
	// remaining min-spacing before it would be admitted.
	l.mu.Lock()
	eligible := l.nextEligibleLocked(*cur)
	l.mu.Unlock()
	assert.Equal(t, cur.Add(200*time.Millisecond), eligible)
}

func TestLimiter_ExplicitCooldownBlocksUntilExpiry(t *testing.T) {
	now, cur := fakeClock(time.Unix(0, 0))
	l := New(Config{MaxPerWindow: 100, WindowSize: time.Minute})
	l.nowFn = now

	retryAfter := 30 * time.Second
	l.RecordRateLimitHit(&retryAfter)

	status := l.Status()
	assert.True(t, status.IsExplicitlyLimited)
	assert.Equal(t, 30*time.Second, status.TimeUntilReset)

	*cur = cur.Add(31 * time.Second)
	status = l.Status()
	assert.False(t, status.IsExplicitlyLimited)
}

func TestLimiter_RecordRateLimitHitDefaultsToWindowSize(t *testing.T) {
	l := New(Config{MaxPerWindow: 10, WindowSize: 45 * time.Second})
	l.RecordRateLimitHit(nil)

	status := l.Status()
	assert.True(t, status.IsExplicitlyLimited)
	assert.InDelta(t, 45*time.Second, status.TimeUntilReset, float64(time.Second))
}

func TestLimiter_WaitForSlot_CancellationDoesNotMutateState(t *testing.T) {
	l := New(Config{MaxPerWindow: 1, WindowSize: time.Hour})
	ctx := context.Background()

	_, err := l.WaitForSlot(ctx)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.WaitForSlot(cancelCtx)
	require.Error(t, err)

	status := l.Status()
	assert.Equal(t, 1, status.RequestsInWindow, "cancelled wait must not record a second request")
}

func TestManager_FallsBackToDefaultConfig(t *testing.T) {
	m := NewManager(map[string]Config{
		"polygon": {MaxPerWindow: 100, WindowSize: time.Minute},
	}, Config{MaxPerWindow: 5, WindowSize: time.Second})

	polygon := m.Limiter("polygon")
	assert.Equal(t, 100, polygon.cfg.MaxPerWindow)

	unknown := m.Limiter("unknown-provider")
	assert.Equal(t, 5, unknown.cfg.MaxPerWindow)

	// Repeated lookups return the same instance.
	assert.Same(t, unknown, m.Limiter("unknown-provider"))
}

func TestManager_StatusCoversAllCreatedLimiters(t *testing.T) {
	m := NewManager(nil, Config{MaxPerWindow: 5, WindowSize: time.Second})
	m.Limiter("a")
	m.Limiter("b")

	statuses := m.Status()
	assert.Len(t, statuses, 2)
	assert.Contains(t, statuses, "a")
	assert.Contains(t, statuses, "b")
}
