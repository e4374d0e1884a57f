package backfillprovider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/config"
	"github.com/sawpanic/marketwatch/internal/domain"
)

type countingUpstream struct {
	mu    sync.Mutex
	calls int
	bars  []domain.AggregateBar
}

func (u *countingUpstream) GetBars(_ context.Context, _ domain.Symbol, _, _ time.Time, _ domain.Granularity) ([]domain.AggregateBar, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	return u.bars, nil
}

func (u *countingUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func newTestCachedProvider(t *testing.T, upstream Upstream) *CachedProvider {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cfg := config.CacheConfig{Addr: mr.Addr(), TTL: time.Minute, KeyPrefix: "test"}
	return NewCachedProvider(cfg, upstream, zerolog.Nop())
}

func TestCachedProvider_MissThenHit(t *testing.T) {
	bars := []domain.AggregateBar{{Symbol: "AAPL", Volume: 100}}
	upstream := &countingUpstream{bars: bars}
	c := newTestCachedProvider(t, upstream)

	from, to := time.Now().Add(-24*time.Hour), time.Now()

	got, err := c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityDaily)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
	assert.Equal(t, 1, upstream.callCount())

	got2, err := c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityDaily)
	require.NoError(t, err)
	assert.Equal(t, bars, got2)
	assert.Equal(t, 1, upstream.callCount(), "second call should be served from cache")
}

func TestCachedProvider_DifferentGranularityMisses(t *testing.T) {
	upstream := &countingUpstream{bars: []domain.AggregateBar{{Symbol: "AAPL"}}}
	c := newTestCachedProvider(t, upstream)
	from, to := time.Now().Add(-24*time.Hour), time.Now()

	_, err := c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityDaily)
	require.NoError(t, err)
	_, err = c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityMinute)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.callCount())
}

func TestCachedProvider_InvalidateForcesRefetch(t *testing.T) {
	upstream := &countingUpstream{bars: []domain.AggregateBar{{Symbol: "AAPL"}}}
	c := newTestCachedProvider(t, upstream)
	from, to := time.Now().Add(-24*time.Hour), time.Now()

	_, err := c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityDaily)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(context.Background(), "AAPL", from, to, domain.GranularityDaily))

	_, err = c.GetBars(context.Background(), "AAPL", from, to, domain.GranularityDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.callCount())
}
