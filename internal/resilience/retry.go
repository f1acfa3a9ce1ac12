package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryOptions configures Retry and Do.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts. Values below 1 mean 1.
	MaxAttempts int

	// Backoff is the base delay. The wait after failed attempt i (0-based)
	// is Backoff*(i+1).
	Backoff time.Duration

	// Retryable reports whether an error may be retried. A nil func treats
	// every error as retryable.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil uses a timer that stops early when
	// ctx is done. Tests replace it to avoid wall-clock delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry runs op until it succeeds, a non-retryable error is returned, or the
// attempts are exhausted. The error of the last attempt is returned as is,
// never wrapped, so callers can inspect it with errors.Is and errors.As.
// If ctx ends while waiting, the context error is joined with the last
// attempt's error so both stay visible.
func Retry[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts RetryOptions) (T, error) {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt == attempts-1 {
			return zero, err
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		if serr := sleep(ctx, opts.Backoff*time.Duration(attempt+1)); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
}

// Do is Retry for operations that only return an error.
func Do(ctx context.Context, op func(ctx context.Context) error, opts RetryOptions) error {
	_, err := Retry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
