package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retry runs fn until it succeeds, fails with an error other than a lost
// concurrent race, or the retry budget is spent. Each attempt starts from
// scratch.
func retry[T any](ctx context.Context, l *Ledger, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(l.maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Debug("retrying after concurrent modification",
				"op", op,
				"next", next,
				"error", err,
			)
		}),
	)
}
