package log

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
)

func TestSpinner_StartStopAdvancesCharacter(t *testing.T) {
	s := NewSpinner(SpinnerLine)
	first := s.Current()
	s.Start()
	time.Sleep(250 * time.Millisecond)
	s.Stop()
	assert.NotEmpty(t, first)
}

func TestProgressIndicator_UpdateAndFinish(t *testing.T) {
	pi := NewProgressIndicator("backfill AAPL", 10, QuietProgressConfig())
	for i := 1; i <= 10; i++ {
		pi.Update(i)
	}
	assert.Equal(t, 10, pi.current)
	pi.Finish()
}

func TestProgressIndicator_Fail(t *testing.T) {
	pi := NewProgressIndicator("backfill AAPL", 10, QuietProgressConfig())
	pi.Update(3)
	pi.Fail("rate limited")
	assert.Equal(t, 3, pi.current)
}

func TestStepLogger_StartCompleteFinish(t *testing.T) {
	steps := []string{"fetch", "validate", "store"}
	sl := NewStepLogger(zerolog.Nop(), "backfill run", steps)

	sl.StartStep("fetch")
	sl.CompleteStep()
	sl.StartStep("validate")
	sl.CompleteStep()
	sl.StartStep("store")
	sl.Finish()

	assert.Equal(t, 2, sl.currentStep)
}

func TestStepLogger_UnknownStepLogsWarningWithoutPanic(t *testing.T) {
	sl := NewStepLogger(zerolog.Nop(), "backfill run", []string{"fetch"})
	require.NotPanics(t, func() {
		sl.StartStep("does-not-exist")
	})
	assert.Equal(t, -1, sl.currentStep)
}

func TestStepLogger_Fail(t *testing.T) {
	sl := NewStepLogger(zerolog.Nop(), "backfill run", []string{"fetch", "store"})
	sl.StartStep("fetch")
	sl.Fail("provider unavailable")
	assert.Equal(t, "fetch", sl.getCurrentStepName())
}

func TestSymbolIndicator_RenderReflectsState(t *testing.T) {
	si := NewSymbolIndicator("AAPL")
	defer si.Stop()

	si.Update(domain.HealthHealthy, 98.2, nil)
	healthy := si.Render()
	assert.Contains(t, healthy, "AAPL")
	assert.Contains(t, healthy, "98.2")

	si.Update(domain.HealthDegraded, 61.0, []string{"gap detected"})
	degraded := si.Render()
	assert.Contains(t, degraded, "gap detected")
}

func TestSymbolIndicator_Stop(t *testing.T) {
	si := NewSymbolIndicator("BTCUSD")
	si.Stop()
	si.Stop()
}
