package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-200 provider response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Status codes considered transient.
var transientStatuses = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 529: true,
}

// Message fragments that mark an error transient when no status code is
// available.
var transientFragments = []string{"overloaded", "rate limit", "529", "503", "429"}

// IsTransient reports whether err warrants a retried attempt.
func IsTransient(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return transientStatuses[he.Status]
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// RetryPolicy bounds the invoke-with-retry loop.
type RetryPolicy struct {
	MaxAttempts int
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy matches the orchestrator's provider retry contract:
// up to 20 attempts with exponential backoff capped at 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 20, MaxBackoff: 300 * time.Second}
}

// Backoff returns the sleep before attempt i (0-based). Attempt 0 sleeps
// nothing; attempt i sleeps min(2^(i-1), cap) seconds.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("provider retries exhausted")

// InvokeWithRetry calls p.Invoke under the policy. Transient errors retry
// with backoff; a non-transient error is retried once then surfaced.
func InvokeWithRetry(ctx context.Context, p Provider, req Request, policy RetryPolicy) (*Response, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if wait := policy.Backoff(attempt); wait > 0 {
			slog.Debug("provider backoff", "provider", p.Name(), "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			// One extra attempt for non-transient failures, then abort.
			if attempt >= 1 {
				return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
			}
			slog.Warn("provider call failed, retrying once", "provider", p.Name(), "error", err)
			continue
		}
		slog.Warn("transient provider error", "provider", p.Name(), "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}
