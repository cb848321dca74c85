package util

import (
	"context"
	"time"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 2 * time.Second
	DefaultRetryCap      = 60 * time.Second
)

// Backoff holds the parameters of an exponential backoff schedule.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: DefaultRetryAttempts,
		Base:     DefaultRetryBase,
		Cap:      DefaultRetryCap,
	}
}

// Delay returns the wait before retry attempt n (0-based), capped.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Retry runs fn up to b.Attempts times, sleeping the backoff delay between
// attempts. It stops early when fn succeeds, when fn reports the error is
// not retryable, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, b Backoff, fn func() error, retryable func(error) bool) error {
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == b.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return err
}
