// Package log bootstraps the process-wide zerolog logger and provides the
// watch-command's terminal progress output.
//
// Grounded on cmd/cryptorun/main.go's startup sequence (ConsoleWriter in a
// TTY, RFC3339 timestamps) and internal/log/progress.go's ProgressIndicator/
// Spinner pair, adapted from pipeline-step progress to per-symbol backfill
// and watch-command status lines.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Bootstrap builds and returns the process's zerolog logger (zerolog's
// global log.Logger is left as it is): a human-readable
// console writer when stderr is a terminal, structured JSON otherwise
// (e.g. under a process supervisor or in CI), matching
// cmd/cryptorun/main.go's TTY-conditional behavior.
func Bootstrap(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

// ParseLevel maps a config string to a zerolog.Level, defaulting to Info
// on an unrecognized value rather than erroring — a typo in a log-level
// config field should degrade gracefully, not abort startup.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
