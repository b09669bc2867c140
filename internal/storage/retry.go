package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

// RetryPolicy bounds exponential backoff for transient store failures.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy: 4 attempts, 100ms doubling, capped at 2s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Base: 100 * time.Millisecond, Max: 2 * time.Second}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	retries := uint64(0)
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return retry.WithMaxRetries(retries, b)
}

// Retry runs fn, repeating it while it fails with common.ErrTransientStore.
// Other errors are returned at once. When attempts run out the last
// transient error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrTransientStore) {
			return retry.RetryableError(err)
		}
		return err
	})
}
