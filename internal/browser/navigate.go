// internal/browser/navigate.go
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/listfill/internal/retry"
)

// Navigator loads URLs with a bounded retry policy, a per-attempt timeout
// and an optional shared rate limit.
type Navigator struct {
	Policy  retry.Policy
	Timeout time.Duration
	// Timer paces the waits between attempts. Nil means the wall clock.
	Timer retry.Timer
	// Limiter throttles every attempt. Nil means unthrottled.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewLimiter returns a limiter allowing perSecond navigations, or nil when perSecond is zero.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// WithPolicy returns a copy of n using p.
func (n Navigator) WithPolicy(p retry.Policy) Navigator {
	n.Policy = p
	return n
}

// Goto navigates page to url. A failed attempt is retried after the policy
// delay; once attempts are exhausted the last failure comes back wrapped in a
// *NavigationError. Cancellation of ctx is returned as is.
func (n Navigator) Goto(ctx context.Context, page Page, url string) (*Response, error) {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var resp *Response
	attempts := 0
	err := retry.Do(ctx, n.Policy, n.Timer, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if n.Limiter != nil {
			if err := n.Limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		navCtx := ctx
		if n.Timeout > 0 {
			var cancel context.CancelFunc
			navCtx, cancel = context.WithTimeout(ctx, n.Timeout)
			defer cancel()
		}

		r, err := page.Navigate(navCtx, url)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(attempt int, err error) {
		logger.Warn("Navigation attempt failed.",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", n.Policy.MaxAttempts()),
			zap.Error(err))
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &NavigationError{URL: url, Attempts: attempts, Err: fmt.Errorf("navigate: %w", err)}
}
