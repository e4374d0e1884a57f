package backfill

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxRetryAfter = 5 * time.Minute

// jitteredBackoff computes min(base*2^(k-1), max) with ±fraction jitter,
// the shape spec.md §4.M uses for both the empty-poll backoff
// (200ms/10s/25%) and the rate-limit retry backoff (2s/60s/25%) — the
// same formula as the Streaming Client's reconnect backoff (component
// L), just with different constants.
func jitteredBackoff(base, max time.Duration, attempt int, fraction float64, jitterFn func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	if backoff > max {
		backoff = max
	}
	jitter := (jitterFn()*2 - 1) * fraction * float64(backoff)
	return backoff + time.Duration(jitter)
}

// retryAfterPattern locates a Retry-After value (case-insensitive)
// anywhere in an error chain's messages, per spec.md §4.M: "Look for
// Retry-After:<value> ... in the error chain's messages."
var retryAfterPattern = regexp.MustCompile(`(?i)retry-after:\s*([^\r\n]+)`)

func parseRetryAfterFromChain(err error) *time.Duration {
	for e := err; e != nil; e = errors.Unwrap(e) {
		m := retryAfterPattern.FindStringSubmatch(e.Error())
		if m == nil {
			continue
		}
		if d, ok := parseRetryAfterValue(m[1]); ok {
			if d > maxRetryAfter {
				d = maxRetryAfter
			}
			if d < 0 {
				d = 0
			}
			return &d
		}
	}
	return nil
}

// parseRetryAfterValue accepts delta-seconds ("120") or an RFC 7231
// HTTP-date, matching the two forms the HTTP Retry-After header allows.
func parseRetryAfterValue(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

// looksLikeRateLimit reports whether err's message (untyped, not a
// *qerr.RateLimitError) suggests a rate-limit condition, per spec.md
// §4.M's "an untyped error whose message contains '429' or 'rate
// limit'".
func looksLikeRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
