// Package retry wraps operations with classified, backoff-based retries.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/geolens/geolens/internal/errors"
)

// Policy retries operations that fail with a transient error. Fatal
// errors are surfaced immediately after a single attempt.
type Policy struct {
	// MaxRetries bounds the number of re-attempts after the first try.
	MaxRetries int
	// BaseDelay seeds the exponential backoff schedule.
	BaseDelay time.Duration
	// MaxDelay caps any single backoff sleep.
	MaxDelay time.Duration
	// Jitter perturbs each delay uniformly within [0.5x, 1.5x].
	Jitter bool
}

// Default returns the policy used for provider calls when none is configured.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Do runs op under the policy and returns the last error when attempts
// are exhausted.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := p.DoWithCount(ctx, op)
	return err
}

// DoWithCount runs op under the policy and additionally reports how many
// attempts were made. The backoff wait is timer-based and aborts as soon
// as ctx is done, so one operation's backoff never blocks its neighbors.
func (p Policy) DoWithCount(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if !apperrors.Retryable(err) {
			return attempts, err
		}
		if attempts > p.MaxRetries {
			return attempts, err
		}
		if werr := p.wait(ctx, attempts-1); werr != nil {
			return attempts, err
		}
	}
}

// Delay computes the backoff for the given zero-based attempt index,
// before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if p.Jitter {
		// Uniform in [0.5x, 1.5x].
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
