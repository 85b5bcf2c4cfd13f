package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryableError marks an error as worth retrying.
type RetryableError interface {
	error
	IsRetryable() bool
}

// FatalError marks an error as permanent; retrying cannot change the outcome.
type FatalError interface {
	error
	IsFatal() bool
}

type classifiedError struct {
	err       error
	permanent bool
}

func (e *classifiedError) Error() string     { return e.err.Error() }
func (e *classifiedError) Unwrap() error     { return e.err }
func (e *classifiedError) IsRetryable() bool { return !e.permanent }
func (e *classifiedError) IsFatal() bool     { return e.permanent }

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err}
}

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, permanent: true}
}

func isFatal(err error) bool {
	var fatal FatalError
	return errors.As(err, &fatal) && fatal.IsFatal()
}

// Policy bounds a retry loop: attempt count, backoff shape, and an optional
// elapsed-time ceiling.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// Retry runs fn under the policy. Unclassified errors count as retryable.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback is Retry with a hook invoked before each sleep, carrying
// the attempt number, the error, and the upcoming delay.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}

	b := backoff.WithMaxRetries(backoff.WithContext(policy.backoff(), ctx), uint64(policy.MaxAttempts-1))

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if isFatal(err) {
			return backoff.Permanent(err)
		}
		if onRetry != nil && attempt < policy.MaxAttempts {
			onRetry(attempt, err, CalculateBackoffDuration(attempt, policy.InitialInterval, policy.Multiplier, policy.MaxInterval))
		}
		return err
	}, b)
}
