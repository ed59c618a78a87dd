package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs op with exponential backoff and jitter, giving each
// attempt its own timeout. It returns how many attempts ran so stages
// can surface the count in their event details. Context cancellation
// and validation or security failures are permanent; other errors are
// treated as transient since every retried operation here is a network
// call.
func withRetry(ctx context.Context, name string, attempts int, timeout time.Duration, op func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(attempts-1))

	tried := 0
	err := backoff.RetryNotify(
		func() error {
			tried++
			opCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := op(opCtx)
			if err == nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, wait time.Duration) {
			slog.Warn("retrying after failure", "op", name, "wait", wait, "error", err)
		},
	)
	return tried, err
}

// isPermanent reports whether retrying cannot change the outcome.
func isPermanent(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var sv *SecurityViolation
	return errors.As(err, &sv)
}
