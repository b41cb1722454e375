package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// NewExponentialBackOff builds an exponential backoff from config.
// A zero MaxElapsedTime never stops on its own.
func NewExponentialBackOff(config *RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialInterval
	b.MaxInterval = config.MaxInterval
	b.MaxElapsedTime = config.MaxElapsedTime
	b.Reset()
	return b
}

// WithRetry executes an operation with retry logic using exponential backoff
func WithRetry(ctx context.Context, operation func() error, config *RetryConfig) error {
	return backoff.Retry(operation, backoff.WithContext(NewExponentialBackOff(config), ctx))
}

// FixedRetry runs operation at most attempts times with a constant delay
// between attempts. timer may be nil to use the real clock.
type FixedRetry struct {
	Attempts int
	Delay    time.Duration
	Timer    backoff.Timer
	Notify   func(err error, next time.Duration)
}

// Do runs operation until it succeeds, returns a permanent error, the attempts
// are used up or ctx is done. It returns the last error seen.
func (r FixedRetry) Do(ctx context.Context, operation func(attempt int) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		return operation(attempt)
	}
	return backoff.RetryNotifyWithTimer(op, b, r.Notify, r.Timer)
}
