// Package retry hardens read-only network calls: repeat the operation
// with a fixed wait until it succeeds or the context is cancelled.
//
// It must never wrap an operation with side effects — transaction
// submission has its own retry discipline in internal/chain, because a
// blind resend could double-apply the intent.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultWait is the fixed delay between attempts.
const DefaultWait = 500 * time.Millisecond

// Forever repeats op until it succeeds, sleeping wait between attempts.
// There is no attempt ceiling; the only way out of a persistently
// failing call is ctx cancellation, whose error is then returned.
func Forever[T any](ctx context.Context, op func() (T, error), wait time.Duration) (T, error) {
	if wait <= 0 {
		wait = DefaultWait
	}

	var result T
	err := backoff.Retry(func() error {
		var err error
		result, err = op()
		return err
	}, backoff.WithContext(backoff.NewConstantBackOff(wait), ctx))
	return result, err
}
