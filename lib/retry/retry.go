package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps an error so Do gives up on it immediately instead of
// retrying the remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op up to `attempts` times with exponential backoff starting at
// `baseDelay` between tries. The last error is returned once the attempts
// are exhausted or the context is cancelled.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, op func() error) error {
	if attempts < 1 {
		return errors.New("retry: attempts must be at least 1")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = baseDelay
	policy.RandomizationFactor = 0

	tries := 0
	return backoff.Retry(func() error {
		tries++
		err := op()
		if err != nil && tries < attempts {
			slog.DebugContext(ctx, "retrying after failure", "attempt", tries, "err", err)
		}
		return err
	}, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(attempts-1)),
		ctx,
	))
}
