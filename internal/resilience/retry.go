package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome is the explicit classification of one attempt. Threading outcomes
// through the loop keeps error classification visible at the call site
// instead of buried in panic/recover-style control flow.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

// Classifier maps an attempt error to an Outcome. A nil error is always
// OutcomeSuccess regardless of the classifier.
type Classifier func(error) Outcome

// RetryPolicy wraps a fallible operation with capped exponential backoff
// plus jitter. Only transient errors are retried; permanent errors and
// CircuitOpenError propagate immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // random fraction, e.g. 0.2

	Logger *slog.Logger
	// OnRetry is invoked before each sleep with the attempt just failed
	// and the delay about to be taken.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until success, a permanent outcome, context cancellation or
// attempt exhaustion.
func (p RetryPolicy) Do(ctx context.Context, op string, classify Classifier, fn func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = p.Jitter
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var coe *CircuitOpenError
		if errors.As(err, &coe) {
			// already-known-bad endpoint, spend no attempt budget
			return err
		}
		if classify != nil && classify(err) == OutcomePermanent {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying operation",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, maxAttempts, lastErr)
}
