package providers

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy begrenzt Wiederholungen entfernter Lesezugriffe.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Permanent markiert einen Fehler, der nicht wiederholt werden soll (z.B. 404).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retry führt op mit exponentiellem Backoff aus, höchstens MaxAttempts Mal.
// Bricht ab, sobald ctx beendet ist oder op einen permanenten Fehler liefert.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if policy.BaseDelay > 0 {
		exp.InitialInterval = policy.BaseDelay
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}, b)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// RetryValue ist Retry mit Rückgabewert.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
