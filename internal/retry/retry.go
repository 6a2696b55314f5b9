// Package retry implements exponential backoff retry for connection-level
// failures. The loader only ever retries outside of an open transaction;
// callers inside a transaction must not use this package.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the default retry configuration for reconnection.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do executes fn with exponential backoff, retrying only on
// loaderrors.IsRetryable errors. Returns the last error if all attempts
// fail.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !loaderrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// calculateBackoff computes base * 2^attempt with jitter, capped at max.
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
