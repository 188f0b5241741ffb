package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/listfill/internal/retry"
)

// Clock records every requested wait and returns at once. It serves both as
// the retry.Clock for fixed delays and as the retry.Timer between attempts, so
// tests see one ordered list of waits.
type Clock struct {
	mu     sync.Mutex
	sleeps []time.Duration
	fired  chan time.Time
}

var (
	_ retry.Clock = (*Clock)(nil)
	_ retry.Timer = (*Clock)(nil)
)

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// Start records d and fires immediately.
func (c *Clock) Start(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if c.fired == nil {
		c.fired = make(chan time.Time, 1)
	}
	select {
	case c.fired <- time.Now():
	default:
	}
}

func (c *Clock) Stop() {}

func (c *Clock) C() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired == nil {
		c.fired = make(chan time.Time, 1)
	}
	return c.fired
}

// Sleeps returns every requested duration, in order.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Total is the sum of all requested sleeps.
func (c *Clock) Total() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}
