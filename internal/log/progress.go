// Package log bootstraps the process-wide zerolog logger and renders
// terminal progress for long-running commands (backfill runs, the watch
// command's live per-symbol table).
//
// Grounded on internal/log/progress.go's ProgressIndicator/Spinner/
// StepLogger trio, kept in shape but adapted: output is routed through an
// injected zerolog.Logger instead of the teacher's global zerolog/log
// singleton (matching Bootstrap's own logger-as-value style), icons and
// bars are colorized via github.com/fatih/color (the teacher's version is
// plain text), and a new SymbolIndicator type — not present in the
// teacher — renders one colored health line per tracked symbol for the
// watch command, which has no one-shot percent-complete notion to reuse
// ProgressIndicator for.
package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// ProgressIndicator renders progress for a single named, total-bounded
// operation such as one symbol's backfill run.
type ProgressIndicator struct {
	mu           sync.Mutex
	name         string
	total        int
	current      int
	startTime    time.Time
	lastUpdate   time.Time
	spinner      *Spinner
	showSpinner  bool
	showProgress bool
	showETA      bool
}

// Spinner provides rotating visual feedback.
type Spinner struct {
	chars    []string
	current  int
	interval time.Duration
	stop     chan bool
	running  bool
	mu       sync.Mutex
}

// ProgressConfig configures progress indicator behavior.
type ProgressConfig struct {
	ShowSpinner  bool
	ShowProgress bool
	ShowETA      bool
	SpinnerStyle SpinnerStyle
}

// SpinnerStyle selects a spinner animation.
type SpinnerStyle string

const (
	SpinnerDots  SpinnerStyle = "dots"
	SpinnerLine  SpinnerStyle = "line"
	SpinnerClock SpinnerStyle = "clock"
)

// NewProgressIndicator constructs a ProgressIndicator for a total-bounded
// operation.
func NewProgressIndicator(name string, total int, config ProgressConfig) *ProgressIndicator {
	pi := &ProgressIndicator{
		name:         name,
		total:        total,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		showSpinner:  config.ShowSpinner,
		showProgress: config.ShowProgress,
		showETA:      config.ShowETA,
	}

	if config.ShowSpinner {
		pi.spinner = NewSpinner(config.SpinnerStyle)
		pi.spinner.Start()
	}
	return pi
}

// NewSpinner constructs a Spinner in the given style.
func NewSpinner(style SpinnerStyle) *Spinner {
	s := &Spinner{interval: 100 * time.Millisecond, stop: make(chan bool, 1)}
	switch style {
	case SpinnerLine:
		s.chars = []string{"-", "\\", "|", "/"}
	case SpinnerClock:
		s.chars = []string{"🕐", "🕑", "🕒", "🕓", "🕔", "🕕", "🕖", "🕗", "🕘", "🕙", "🕚", "🕛"}
	default:
		s.chars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	}
	return s
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.spin()
}

// Stop terminates the spinner animation.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.stop <- true
}

func (s *Spinner) spin() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.current = (s.current + 1) % len(s.chars)
			s.mu.Unlock()
		}
	}
}

// Current returns the current spinner character.
func (s *Spinner) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars[s.current]
}

// Increment advances progress by one step.
func (pi *ProgressIndicator) Increment() {
	pi.Update(pi.current + 1)
}

// Update sets the current progress value.
func (pi *ProgressIndicator) Update(current int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.current = current
	pi.lastUpdate = time.Now()
	if pi.showProgress || pi.showETA {
		pi.printProgress()
	}
}

// UpdateWithMessage sets progress and displays a trailing message.
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.current = current
	pi.lastUpdate = time.Now()
	pi.printProgressWithMessage(message)
}

// Finish completes the progress indicator.
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.spinner != nil {
		pi.spinner.Stop()
	}
	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s %s completed (%d items, %v)\n", color.GreenString("✓"), pi.name, pi.total, duration.Round(time.Millisecond))
}

// FinishWithMessage completes the progress indicator with a trailing
// message.
func (pi *ProgressIndicator) FinishWithMessage(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.spinner != nil {
		pi.spinner.Stop()
	}
	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s %s: %s (%v)\n", color.GreenString("✓"), pi.name, message, duration.Round(time.Millisecond))
}

// Fail marks the progress as failed.
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.spinner != nil {
		pi.spinner.Stop()
	}
	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s %s failed: %s (%v)\n", color.RedString("✗"), pi.name, reason, duration.Round(time.Millisecond))
}

func (pi *ProgressIndicator) printProgress() {
	pi.printProgressWithMessage("")
}

func (pi *ProgressIndicator) printProgressWithMessage(message string) {
	var output strings.Builder
	output.WriteString("\r\033[K")

	if pi.spinner != nil && pi.showSpinner {
		output.WriteString(pi.spinner.Current())
		output.WriteString(" ")
	}

	output.WriteString(pi.name)

	if pi.showProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		const barWidth = 20
		filled := int(float64(barWidth) * float64(pi.current) / float64(pi.total))

		output.WriteString(" [")
		for i := 0; i < barWidth; i++ {
			if i < filled {
				output.WriteString(color.CyanString("█"))
			} else {
				output.WriteString("░")
			}
		}
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 {
		elapsed := time.Since(pi.startTime)
		rate := float64(pi.current) / elapsed.Seconds()
		remaining := pi.total - pi.current
		eta := time.Duration(float64(remaining)/rate) * time.Second

		if eta > time.Hour {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Minute)))
		} else {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
		}
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}

	fmt.Print(output.String())
}

// StepLogger tracks a named sequence of steps — the shape a backfill run
// over several symbols, or an orchestrator startup sequence, reports
// progress through.
type StepLogger struct {
	steps       []string
	currentStep int
	startTime   time.Time
	stepTimes   []time.Duration
	progress    *ProgressIndicator
	log         zerolog.Logger
}

// NewStepLogger constructs a StepLogger over steps, logging through log
// rather than a global logger so callers can attach request-scoped fields.
func NewStepLogger(log zerolog.Logger, name string, steps []string) *StepLogger {
	config := ProgressConfig{ShowSpinner: true, ShowProgress: true, ShowETA: true, SpinnerStyle: SpinnerDots}
	return &StepLogger{
		steps:       steps,
		currentStep: -1,
		startTime:   time.Now(),
		stepTimes:   make([]time.Duration, len(steps)),
		progress:    NewProgressIndicator(name, len(steps), config),
		log:         log,
	}
}

// StartStep begins a named step.
func (sl *StepLogger) StartStep(stepName string) {
	stepIndex := -1
	for i, step := range sl.steps {
		if step == stepName {
			stepIndex = i
			break
		}
	}
	if stepIndex == -1 {
		sl.log.Warn().Str("step", stepName).Msg("unknown step")
		return
	}

	if sl.currentStep >= 0 {
		sl.stepTimes[sl.currentStep] = time.Since(sl.startTime) - sl.getTotalElapsed()
	}

	sl.currentStep = stepIndex
	sl.progress.UpdateWithMessage(stepIndex+1, stepName)

	sl.log.Info().
		Str("step", stepName).
		Int("step_number", stepIndex+1).
		Int("total_steps", len(sl.steps)).
		Msg("starting step")
}

// CompleteStep marks the current step as completed.
func (sl *StepLogger) CompleteStep() {
	if sl.currentStep >= 0 {
		stepDuration := time.Since(sl.startTime) - sl.getTotalElapsed()
		sl.stepTimes[sl.currentStep] = stepDuration
		sl.log.Info().
			Str("step", sl.steps[sl.currentStep]).
			Dur("duration", stepDuration).
			Msg("step completed")
	}
}

// Finish completes the step logger and logs a timing summary.
func (sl *StepLogger) Finish() {
	sl.CompleteStep()
	totalDuration := time.Since(sl.startTime)
	sl.progress.FinishWithMessage(fmt.Sprintf("all %d steps completed", len(sl.steps)))

	sl.log.Info().Dur("total_duration", totalDuration).Msg("run completed")
	for i, step := range sl.steps {
		if i >= len(sl.stepTimes) {
			continue
		}
		percentage := float64(sl.stepTimes[i]) / float64(totalDuration) * 100
		sl.log.Info().
			Str("step", step).
			Dur("duration", sl.stepTimes[i]).
			Float64("percentage", percentage).
			Msgf("%d. %s", i+1, step)
	}
}

// Fail marks the step logger as failed.
func (sl *StepLogger) Fail(reason string) {
	sl.progress.Fail(reason)
	sl.log.Error().
		Str("failed_step", sl.getCurrentStepName()).
		Int("completed_steps", sl.currentStep).
		Int("total_steps", len(sl.steps)).
		Str("reason", reason).
		Msg("run failed")
}

func (sl *StepLogger) getCurrentStepName() string {
	if sl.currentStep >= 0 && sl.currentStep < len(sl.steps) {
		return sl.steps[sl.currentStep]
	}
	return "unknown"
}

func (sl *StepLogger) getTotalElapsed() time.Duration {
	var total time.Duration
	for i := 0; i < sl.currentStep; i++ {
		if i < len(sl.stepTimes) {
			total += sl.stepTimes[i]
		}
	}
	return total
}

// DefaultProgressConfig returns a fully verbose progress configuration.
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{ShowSpinner: true, ShowProgress: true, ShowETA: true, SpinnerStyle: SpinnerDots}
}

// QuietProgressConfig suppresses all progress rendering, for non-TTY runs.
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{}
}

// SymbolIndicator renders one live, colored health line per tracked symbol
// for the watch command — a shape the teacher has no equivalent for, since
// its progress output is built around a single bounded operation rather
// than N concurrently updating symbols.
type SymbolIndicator struct {
	mu      sync.Mutex
	symbol  domain.Symbol
	spinner *Spinner
	state   domain.HealthState
	score   float64
	issues  []string
}

// NewSymbolIndicator constructs a SymbolIndicator for symbol with its
// spinner running.
func NewSymbolIndicator(symbol domain.Symbol) *SymbolIndicator {
	si := &SymbolIndicator{symbol: symbol, spinner: NewSpinner(SpinnerDots)}
	si.spinner.Start()
	return si
}

// Update refreshes the indicator's health snapshot.
func (si *SymbolIndicator) Update(state domain.HealthState, score float64, issues []string) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.state = state
	si.score = score
	si.issues = issues
}

// Render returns the current single-line display for this symbol.
func (si *SymbolIndicator) Render() string {
	si.mu.Lock()
	defer si.mu.Unlock()

	badge := stateColor(si.state)(si.state.String())
	line := fmt.Sprintf("%s %-8s %s  score=%.1f", si.spinner.Current(), si.symbol, badge, si.score)
	if len(si.issues) > 0 {
		line += "  " + strings.Join(si.issues, "; ")
	}
	return line
}

// Stop halts the indicator's spinner.
func (si *SymbolIndicator) Stop() {
	si.spinner.Stop()
}

func stateColor(s domain.HealthState) func(format string, a ...interface{}) string {
	switch s {
	case domain.HealthHealthy:
		return color.GreenString
	case domain.HealthDegraded:
		return color.YellowString
	case domain.HealthUnhealthy, domain.HealthStale:
		return color.RedString
	default:
		return color.WhiteString
	}
}
