// ABOUTME: Generic retry wrapper with classified-error backoff for outbound model calls.
// ABOUTME: Delays grow exponentially from InitialDelay to MaxDelay; non-retryable errors fail immediately.
package llm

import (
	"context"
	"math"
	"time"
)

// RetryPolicy configures backoff for transient provider failures.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// BackoffMultiplier controls exponential growth of the delay.
	BackoffMultiplier float64

	// OnRetry, when set, is invoked before each retry sleep with the error
	// that triggered it, the 0-indexed attempt number, and the delay.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns 3 retries, 500ms initial delay, 10s max, 2x growth.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DelayForAttempt computes the delay for a 0-indexed attempt:
// min(InitialDelay * BackoffMultiplier^attempt, MaxDelay).
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// Retry executes fn, retrying on retryable errors up to MaxRetries times.
// Non-retryable errors are returned immediately without sleeping; once
// retries are exhausted the last error is returned. The context cancels
// waiting between attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, lastErr
		}

		delay := policy.DelayForAttempt(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(delay):
		}
	}
}
