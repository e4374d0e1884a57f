package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func testConfig() Config {
	return Config{GapThreshold: 1, SignificantGapSize: 100, ResetThreshold: 10000, MaxErrorsPerSymbol: 1000}
}

func TestTracker_FirstEventRecordsNoError(t *testing.T) {
	tr := New(testConfig())
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	assert.Nil(t, err)
}

func TestTracker_NormalAdvance(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 2, time.Now(), "polygon")
	assert.Nil(t, err)
}

func TestTracker_GapDetected(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 5, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrGap, err.ErrorType)
	assert.Equal(t, int64(2), err.ExpectedSeq)
	assert.Equal(t, int64(5), err.ActualSeq)
	assert.Equal(t, int64(3), err.GapSize)
}

func TestTracker_OutOfOrderDoesNotAdvance(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 10, time.Now(), "polygon")
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 8, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrOutOfOrder, err.ErrorType)

	// lastSeq is still 10, so the next normal event must be 11.
	err2 := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 11, time.Now(), "polygon")
	assert.Nil(t, err2)
}

func TestTracker_DuplicateDoesNotAdvance(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 5, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 6, time.Now(), "polygon")
	// Repeating the last-seen sequence value itself is a duplicate.
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 6, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrDuplicate, err.ErrorType)
	assert.Equal(t, int64(7), err.ExpectedSeq)

	// lastSeq is still 6, so the next normal event must be 7.
	err2 := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 7, time.Now(), "polygon")
	assert.Nil(t, err2)
}

// TestTracker_StaleNonAdjacentValueIsOutOfOrderNotDuplicate guards against
// classifying any value still present in the recent-sequence window as a
// Duplicate: only a value equal to lastSeq is a duplicate, a value merely
// seen recently but strictly less than lastSeq is out of order.
func TestTracker_StaleNonAdjacentValueIsOutOfOrderNotDuplicate(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 2, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 3, time.Now(), "polygon")

	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 2, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrOutOfOrder, err.ErrorType)
}

func TestTracker_ResetAcceptsLargeBackwardJump(t *testing.T) {
	cfg := testConfig()
	cfg.ResetThreshold = 100
	tr := New(cfg)

	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 5000, time.Now(), "polygon")
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrReset, err.ErrorType)

	// lastSeq is reassigned to 1; the next event should be 2 with no error.
	err2 := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 2, time.Now(), "polygon")
	assert.Nil(t, err2)
}

// TestTracker_LiteralScenarioClassifiesEachStepCorrectly feeds the exact
// §8 Scenario 3 sequence [1,2,3,3,2,1000000,7,8] with gapThreshold=1,
// resetThreshold=10000 and checks every classification in order:
// Duplicate@3, OutOfOrder@2, Gap@1000000, Reset@7, with 1, 2, and 8 normal.
func TestTracker_LiteralScenarioClassifiesEachStepCorrectly(t *testing.T) {
	tr := New(testConfig())

	check := func(seq int64) *domain.SequenceError {
		return tr.CheckSequence("AAPL", domain.EventKindTrades, "", seq, time.Now(), "polygon")
	}

	assert.Nil(t, check(1))
	assert.Nil(t, check(2))
	assert.Nil(t, check(3))

	err := check(3)
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrDuplicate, err.ErrorType)

	err = check(2)
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrOutOfOrder, err.ErrorType)

	err = check(1000000)
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrGap, err.ErrorType)

	err = check(7)
	require.NotNil(t, err)
	assert.Equal(t, domain.SeqErrReset, err.ErrorType)

	assert.Nil(t, check(8))
}

func TestTracker_RecentRingDeduplicatesAcrossBound(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	for i := int64(2); i <= int64(recentWindowSize)+5; i++ {
		tr.CheckSequence("AAPL", domain.EventKindTrades, "", i, time.Now(), "polygon")
	}
	// Sequence 1 has long since fallen out of the recent ring and is below
	// lastSeq without equalling it, so it reads as a backward jump, not a
	// duplicate.
	err := tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	require.NotNil(t, err)
	assert.NotEqual(t, domain.SeqErrDuplicate, err.ErrorType)
}

func TestTracker_GlobalCountsAndSummary(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 5, time.Now(), "polygon") // gap
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 6, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 6, time.Now(), "polygon") // duplicate

	counts := tr.GlobalCounts()
	assert.Equal(t, int64(1), counts[domain.SeqErrGap])
	assert.Equal(t, int64(1), counts[domain.SeqErrDuplicate])

	summary, ok := tr.Summary("AAPL", domain.EventKindTrades, "")
	require.True(t, ok)
	assert.Equal(t, int64(4), summary.TotalChecked)
	assert.InDelta(t, 0.5, summary.ErrorRate, 0.001)
}

func TestTracker_SummaryForSymbolAggregatesAcrossKinds(t *testing.T) {
	tr := New(testConfig())
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 1, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindTrades, "", 5, time.Now(), "polygon") // gap
	tr.CheckSequence("AAPL", domain.EventKindQuotes, "", 1, time.Now(), "polygon")
	tr.CheckSequence("AAPL", domain.EventKindQuotes, "", 1, time.Now(), "polygon") // duplicate

	summary := tr.SummaryForSymbol("AAPL")
	assert.Equal(t, int64(4), summary.TotalChecked)
	assert.Equal(t, int64(1), summary.CountsByType[domain.SeqErrGap])
	assert.Equal(t, int64(1), summary.CountsByType[domain.SeqErrDuplicate])
}
