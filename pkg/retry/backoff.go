package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

func (p Policy) backoff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	return exp
}

// CalculateBackoffDuration returns the delay before the given attempt,
// growing geometrically from the initial interval and capped at the maximum.
// Used where the wait is persisted rather than slept through.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	delay := float64(initialInterval)
	ceiling := float64(maxInterval)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if delay >= ceiling {
			return maxInterval
		}
	}
	return time.Duration(delay)
}
