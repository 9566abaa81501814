package ironerr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures Retry's exponential-backoff schedule.
type RetryConfig struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig matches the cooldown window the agent loop uses for a
// transient Io or llm_error kind: a handful of attempts, capped well under
// the compaction/heartbeat cadence.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Retry runs op until it succeeds, exhausts cfg.MaxAttempts, ctx is
// cancelled, or op returns an *Error whose Kind is not Retryable — a
// permanent failure short-circuits the schedule instead of burning the
// remaining attempts. Only KindIO, KindGuardTimeout, KindLLMRateLimit, and
// KindLLMOverloaded are retried; any other *Error (or a non-Error failure)
// is returned immediately.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay

	return backoff.Retry(ctx, func() (T, error) {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(cfg.MaxAttempts))
}
