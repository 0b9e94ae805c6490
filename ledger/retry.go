/*
retry.go - Bounded retry with exponential backoff for transient contention

PURPOSE:
  No ledger operation blocks indefinitely. Storage contention surfaces as
  ErrBusy, and the engine retries it a bounded number of times with
  exponential backoff and jitter before giving up and returning ErrBusy to
  the caller. All other errors pass through on the first attempt.
*/
package ledger

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds the retry policy applied to ErrBusy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig retries twice more after the initial attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
}

// Retry runs fn, retrying only retryable errors with exponential backoff:
// BaseDelay * 2^(attempt-1) plus up to 25% jitter. Returns early when the
// context is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.BaseDelay << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
