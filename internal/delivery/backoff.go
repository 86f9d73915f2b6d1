package delivery

import (
	"errors"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// Backoff is the retry policy for failed attempts.
type Backoff struct {
	// Base is the delay after the first failure.
	Base time.Duration
	// Max caps every delay, jitter included.
	Max time.Duration
	// JitterFraction adds up to this fraction of the exponential delay. It
	// must be in [0, 1] so that delays never shrink between failures.
	JitterFraction float64
	// MaxAttempts is the total number of attempts before a delivery fails.
	MaxAttempts int
}

// DefaultBackoff retries for roughly a day: 1s, 2s, 4s ... capped at 1h,
// over 12 attempts.
var DefaultBackoff = Backoff{
	Base:           time.Second,
	Max:            time.Hour,
	JitterFraction: 0.2,
	MaxAttempts:    12,
}

// Validate reports a misconfigured policy.
func (b Backoff) Validate() error {
	switch {
	case b.Base <= 0:
		return errors.New("backoff base must be positive")
	case b.Max < b.Base:
		return errors.New("backoff max must be at least base")
	case b.JitterFraction < 0 || b.JitterFraction > 1:
		return errors.New("backoff jitter fraction must be in [0, 1]")
	case b.MaxAttempts < 1:
		return errors.New("max attempts must be at least 1")
	}
	return nil
}

// Delay returns the wait after a failure when failures attempts had
// already been made. jitter is a uniform sample in [0, 1).
func (b Backoff) Delay(failures int, jitter float64) time.Duration {
	d := b.Base
	for i := 0; i < failures && d < b.Max; i++ {
		d *= 2
	}
	if d >= b.Max {
		return b.Max
	}
	d += time.Duration(float64(d) * b.JitterFraction * jitter)
	return min(d, b.Max)
}

// Plan decides the transition after an attempt on a delivery that had
// attemptsCount prior attempts.
func (b Backoff) Plan(attemptsCount, status int, attemptedAt time.Time, jitter float64) (model.DeliveryStatus, time.Time) {
	if model.IsSuccessStatus(status) {
		return model.DeliverySuccess, time.Time{}
	}
	if attemptsCount+1 >= b.MaxAttempts {
		return model.DeliveryFailed, time.Time{}
	}
	return model.DeliveryPending, attemptedAt.Add(b.Delay(attemptsCount, jitter))
}
