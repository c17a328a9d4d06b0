package generic

import (
	"context"
	"time"
)

// RetryPolicy bounds caller-side retries of retryable errors.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	Backoff  time.Duration // delay before the second attempt, doubled each time
}

// DefaultRetryPolicy is three attempts starting at 10ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 10 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
