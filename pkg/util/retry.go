package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livefn/livefn/pkg/logger"
)

var ErrMaxAttemptReached = errors.New("maximum retry attempts reached")

// Retryable represents a function that can be retried
type Retryable[T any] func(ctx context.Context) (T, error)

// RetryConf specifies the control of how a function should be retried.
// MaxAttempts <= 0 retries until the context is cancelled.
type RetryConf struct {
	MaxAttempts     int              `json:"max_attempts"`
	InitialBackoff  time.Duration    `json:"initial_backoff"`
	MaxBackoff      time.Duration    `json:"max_backoff"`
	BackoffFactor   int              `json:"backoff_factor"`
	RetryableErrors func(error) bool `json:"-"`
}

type RetryConfSetting func(rc *RetryConf)

func WithRetryConfMaxAttempts(i int) RetryConfSetting {
	return func(rc *RetryConf) {
		rc.MaxAttempts = i
	}
}

func WithRetryConfInitialBackoff(dur time.Duration) RetryConfSetting {
	return func(rc *RetryConf) {
		rc.InitialBackoff = dur
	}
}

func WithRetryConfMaxBackoff(dur time.Duration) RetryConfSetting {
	return func(rc *RetryConf) {
		rc.MaxBackoff = dur
	}
}

func WithRetryConfRetryableErrors(fn func(error) bool) RetryConfSetting {
	return func(rc *RetryConf) {
		rc.RetryableErrors = fn
	}
}

func NewRetryConf(opts ...RetryConfSetting) RetryConf {
	conf := RetryConf{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2,
	}

	for _, apply := range opts {
		apply(&conf)
	}

	return conf
}

// WithRetry calls fn until it succeeds, the attempts are exhausted, the error
// is not retryable or ctx is done. The backoff grows by BackoffFactor and is
// capped at MaxBackoff.
func WithRetry[T any](ctx context.Context, name string, fn Retryable[T], conf RetryConf) (T, error) {
	var (
		result  T
		lastErr error
	)

	l := logger.StdlibLogger(ctx).With("action", name)
	backoff := conf.InitialBackoff
	factor := conf.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	for attempt := 1; conf.MaxAttempts <= 0 || attempt <= conf.MaxAttempts; attempt++ {
		var err error
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if conf.RetryableErrors != nil && !conf.RetryableErrors(err) {
			return result, err
		}

		l.Warn("error on retriable function attempt",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)

		if attempt == conf.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("stopping retry due to error: %w. last error: %w", ctx.Err(), lastErr)
		}

		backoff *= time.Duration(factor)
		if conf.MaxBackoff > 0 && backoff > conf.MaxBackoff {
			backoff = conf.MaxBackoff
		}
	}

	l.Error("retriable function failed", "error", lastErr)
	return result, fmt.Errorf("%w: %v", ErrMaxAttemptReached, lastErr)
}
