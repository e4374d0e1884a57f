package backfill

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitteredBackoff_DoublesUntilCap(t *testing.T) {
	mid := func() float64 { return 0.5 } // midpoint of [-1,1]*fraction => zero jitter
	assert.Equal(t, 200*time.Millisecond, jitteredBackoff(200*time.Millisecond, 10*time.Second, 1, 0.25, mid))
	assert.Equal(t, 400*time.Millisecond, jitteredBackoff(200*time.Millisecond, 10*time.Second, 2, 0.25, mid))
	assert.Equal(t, 10*time.Second, jitteredBackoff(200*time.Millisecond, 10*time.Second, 20, 0.25, mid))
}

func TestParseRetryAfterFromChain_DeltaSeconds(t *testing.T) {
	err := fmt.Errorf("provider rejected request: Retry-After: 120")
	d := parseRetryAfterFromChain(err)
	require.NotNil(t, d)
	assert.Equal(t, 120*time.Second, *d)
}

func TestParseRetryAfterFromChain_HTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC()
	err := fmt.Errorf("rate limited, Retry-After: %s", future.Format(http.TimeFormat))
	d := parseRetryAfterFromChain(err)
	require.NotNil(t, d)
	assert.InDelta(t, 90*float64(time.Second), float64(*d), float64(5*time.Second))
}

func TestParseRetryAfterFromChain_CapsAtFiveMinutes(t *testing.T) {
	err := fmt.Errorf("Retry-After: 3600")
	d := parseRetryAfterFromChain(err)
	require.NotNil(t, d)
	assert.Equal(t, 5*time.Minute, *d)
}

func TestParseRetryAfterFromChain_SearchesWrappedChain(t *testing.T) {
	inner := errors.New("upstream: Retry-After: 30")
	outer := fmt.Errorf("fetch failed: %w", inner)
	d := parseRetryAfterFromChain(outer)
	require.NotNil(t, d)
	assert.Equal(t, 30*time.Second, *d)
}

func TestParseRetryAfterFromChain_AbsentReturnsNil(t *testing.T) {
	assert.Nil(t, parseRetryAfterFromChain(errors.New("plain failure")))
}

func TestLooksLikeRateLimit(t *testing.T) {
	assert.True(t, looksLikeRateLimit(errors.New("HTTP 429 Too Many Requests")))
	assert.True(t, looksLikeRateLimit(errors.New("provider: rate limit exceeded")))
	assert.False(t, looksLikeRateLimit(errors.New("connection refused")))
}
