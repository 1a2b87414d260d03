package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Fixed(3, time.Millisecond), func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
}

func TestRetry_UnlimitedUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Do(ctx, Reconnect(5*time.Millisecond), func() error {
		attempts++
		return errors.New("refused")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Greater(t, attempts, 2)
}

func TestRetry_OnRetryReportsFixedDelay(t *testing.T) {
	var delays []time.Duration
	cfg := Fixed(3, 2*time.Millisecond)
	cfg.OnRetry = func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("x") })
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetry_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), Fixed(3, time.Millisecond), func() (int, error) {
		attempts++
		if attempts == 2 {
			return 42, nil
		}
		return 0, errors.New("not yet")
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
