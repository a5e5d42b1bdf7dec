// Package wait provides a bounded poll-until-ready primitive.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
)

// ErrTimeout is returned when the condition is still unmet after the policy's maximum duration.
var ErrTimeout = errors.New("wait: condition not met before deadline")

var errNotReady = errors.New("wait: not ready")

// Policy bounds a wait by poll interval and total duration.
type Policy struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

// Attempts is the number of checks the policy allows, at least one.
func (p Policy) Attempts() uint {
	if p.Interval <= 0 || p.MaxDuration <= 0 {
		return 1
	}
	n := uint(p.MaxDuration/p.Interval) + 1
	if n < 1 {
		n = 1
	}
	return n
}

// Comparisons is the number of interval-spaced comparisons Stable may make,
// at least one.
func (p Policy) Comparisons() uint {
	if n := p.Attempts(); n > 1 {
		return n - 1
	}
	return 1
}

// Stable reads a value, then rereads it one full Interval later until two
// consecutive reads are equal. It returns ErrTimeout when the value is still
// changing after MaxDuration, the read error, or ctx.Err().
func Stable(ctx context.Context, policy Policy, read func() (uint64, error)) error {
	last, err := read()
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error {
			if err := sleep(ctx, policy.Interval); err != nil {
				return retry.Unrecoverable(err)
			}
			current, err := read()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if current != last {
				last = current
				return errNotReady
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(policy.Comparisons()),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return outcome(ctx, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Until calls check every Interval until it reports ready, returns an error,
// the policy is exhausted (ErrTimeout) or ctx is done (ctx.Err()).
func Until(ctx context.Context, policy Policy, check func() (bool, error)) error {
	err := retry.Do(
		func() error {
			ready, err := check()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !ready {
				return errNotReady
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts()),
		retry.Delay(policy.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return outcome(ctx, err)
}

func outcome(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotReady):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrTimeout
	default:
		return err
	}
}
