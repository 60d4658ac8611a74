package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the single retry policy for every outbound call: exponential
// backoff with jitter, bounded attempts and a per-attempt timeout.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // randomization factor, 0..1
	Timeout     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.5,
		Timeout:     20 * time.Second,
	}
}

// Permanent wraps err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, ctx ends, or the
// attempts run out. Errors matching any of stop are treated as permanent.
// notify, when set, is called before each wait.
func Do(
	ctx context.Context,
	p Policy,
	op func(ctx context.Context) error,
	notify func(err error, wait time.Duration),
	stop ...error,
) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := func() error {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := op(actx)
		if err == nil {
			return nil
		}
		for _, s := range stop {
			if errors.Is(err, s) {
				return backoff.Permanent(err)
			}
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotify(attempt, b, notify)
}
