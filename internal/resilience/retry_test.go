package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func alwaysTransient(error) Outcome { return OutcomeTransient }

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy().Do(context.Background(), "op", alwaysTransient, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy().Do(context.Background(), "op", alwaysTransient, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Contains(t, err.Error(), "retries exhausted")
	require.Equal(t, 3, calls)
}

func TestRetryPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	classify := func(err error) Outcome {
		if errors.Is(err, errBoom) {
			return OutcomePermanent
		}
		return OutcomeTransient
	}
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", classify, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestRetryCircuitOpenShortCircuits(t *testing.T) {
	t.Parallel()

	open := &CircuitOpenError{Key: "gvm@gvm:9390", RetryAt: time.Now().Add(time.Minute)}
	calls := 0
	err := fastPolicy().Do(context.Background(), "op", alwaysTransient, func(context.Context) error {
		calls++
		return open
	})
	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	require.Equal(t, 1, calls, "an open circuit must consume no retry budget")
}

func TestRetryDelaysIncrease(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0,
	}
	var delays []time.Duration
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}

	_ = p.Do(context.Background(), "op", alwaysTransient, func(context.Context) error {
		return errBoom
	})
	require.Len(t, delays, 3)
	for i := 1; i < len(delays); i++ {
		require.Greater(t, delays[i], delays[i-1], "backoff must grow between attempts")
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", alwaysTransient, func(context.Context) error { return errBoom })
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
