// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry site: how many times the operation runs in total and
// how long to wait between consecutive runs.
type Policy struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
}

// MaxAttempts returns the effective attempt count. A policy always runs at least once.
func (p Policy) MaxAttempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// BackOff builds the constant backoff for p, bounded by its attempts and by ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts()-1)),
		ctx,
	)
}

// Clock abstracts the fixed settle and pacing delays so tests can drive them.
type Clock interface {
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Sleep implements Clock.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
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

// Timer waits out the delay between attempts. Nil means the wall clock.
type Timer = backoff.Timer

// Permanent wraps err so that Do stops immediately and returns err unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Operation is one run of a retried action. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// Notify is called after every failed attempt, including the last one.
type Notify func(attempt int, err error)

// Do runs op until it succeeds, returns a Permanent error, or the policy's
// attempts are used up. The error of the final attempt is returned as-is so
// callers can wrap it in their own typed failure. Context cancellation is
// never retried.
func Do(ctx context.Context, p Policy, timer Timer, op Operation, notify Notify) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		var perm *backoff.PermanentError
		if !errors.As(err, &perm) && notify != nil {
			notify(attempt, err)
		}
		return err
	}
	return backoff.RetryNotifyWithTimer(operation, p.BackOff(ctx), nil, timer)
}
