// Package qerr defines the error taxonomy shared across the quality
// monitor and ingestion supervisor (spec.md §7).
package qerr

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError is fatal at startup: invalid numeric bounds, bad
// credential format.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: field %q: %s", e.Field, e.Reason)
}

// ConnectionError is recoverable: WebSocket dial/read/write failures or
// protocol malformation. Triggers reconnect.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError is fatal: explicit auth_failed from the provider.
// The streaming client enters a terminal failed state and does not
// reconnect.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// RateLimitError is recoverable and carries an optional honored
// Retry-After delay.
type RateLimitError struct {
	Provider   string
	RetryAfter *time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("rate limit hit for %s: %s (retry after %s)", e.Provider, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit hit for %s: %s", e.Provider, e.Message)
}

// TransientProviderError covers other network or 5xx-class errors from
// providers. The backfill worker does not retry it: only a RateLimitError
// is retried there, and this error fails the request.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error from %s: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// DataValidationError is a data-level, not system-level, problem: a
// malformed frame or invalid OHLC bar. The offending event is dropped and
// counted but does not kill the stream.
type DataValidationError struct {
	Reason string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("data validation error: %s", e.Reason)
}

// InternalInvariantError signals a programmer error that should never
// happen. It surfaces via a fatal log and propagates.
type InternalInvariantError struct {
	Invariant string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Invariant)
}

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsTransient reports whether err is, or wraps, a TransientProviderError.
func IsTransient(err error) bool {
	var tpe *TransientProviderError
	return errors.As(err, &tpe)
}
