package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/retry"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableErrorThenSucceeds(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}
	calls := 0
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return loaderrors.Connection("dial failed", errors.New("connection refused"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return loaderrors.Connection("dial failed", errors.New("connection refused"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryNonRetryableError(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	calls := 0
	dataErr := loaderrors.Data("duplicate business key")
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return dataErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-retryable error must not be retried")
	assert.Same(t, dataErr, err)
}

func TestDo_HonorsContextCancellation(t *testing.T) {
	cfg := retry.Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := retry.Do(ctx, cfg, func() error {
		calls++
		return loaderrors.Connection("dial failed", errors.New("connection refused"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
