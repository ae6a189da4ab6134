package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig defines retry behavior for operation invocations.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Base is the exponential growth factor.
	Base float64
	// Jitter adds randomness to the sleep between attempts to prevent
	// thundering herd. Delay() itself stays deterministic.
	Jitter bool
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

// RetryPolicy determines if and when a failed invocation should be retried.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy with the given configuration.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Base <= 0 {
		config.Base = 2.0
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// Delay returns the backoff before the retry following the given attempt:
// min(InitialDelay·Base^attempt, MaxDelay). Deterministic and non-decreasing.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(rp.config.InitialDelay) * math.Pow(rp.config.Base, float64(attempt)))
	if delay > rp.config.MaxDelay || delay <= 0 {
		delay = rp.config.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt is warranted for the error.
func (rp *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= rp.config.MaxRetries {
		return false
	}
	return IsRetryableError(err)
}

// Sleep blocks for the attempt's backoff, honoring context cancellation.
// Jitter (up to 25% of the delay) is applied here so Delay stays pure.
func (rp *RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	delay := rp.Delay(attempt)
	if rp.config.Jitter && delay >= 4 {
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		jitter := time.Duration(rand.Int63n(int64(delay / 4)))
		if delay+jitter <= rp.config.MaxDelay {
			delay += jitter
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an error as permanently failing so the retry policy
// stops immediately. Used for data-shape and admission failures where a
// retry cannot change the outcome.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryableError determines if an error should trigger a retry. Execution
// failures default to retryable; cancellation, circuit rejection, and
// explicitly marked errors do not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var marked *nonRetryableError
	if errors.As(err, &marked) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return true
}

// WrapExhausted annotates the final error after the retry budget is spent.
func WrapExhausted(err error) error {
	if err == nil {
		return ErrMaxRetriesExceeded
	}
	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, err)
}
