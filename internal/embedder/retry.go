package embedder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.MaxInterval = c.MaxDelay
	if c.Multiplier > 1 {
		b.Multiplier = c.Multiplier
	}
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead
	b.Reset()

	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryWithBackoff runs fn until it succeeds, returns a non-transient error,
// the context ends, or MaxRetries retries have been spent. attempts reports
// how many times fn ran.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, onRetry func(error, time.Duration), fn func(context.Context) (T, error)) (result T, attempts int, err error) {
	operation := func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, d time.Duration) {
		if onRetry != nil {
			onRetry(err, d)
		}
	}

	result, err = backoff.RetryNotifyWithData(operation, config.policy(ctx), notify)
	return result, attempts, err
}
