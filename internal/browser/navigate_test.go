// internal/browser/navigate_test.go
package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/browser/browsertest"
	"github.com/xkilldash9x/listfill/internal/retry"
)

const target = "https://example.test/topanime.php?limit=0"

func newNavigator(timer retry.Timer, logger *zap.Logger) browser.Navigator {
	return browser.Navigator{
		Policy: retry.Policy{Attempts: 3, Delay: 5 * time.Second},
		Timer:  timer,
		Logger: logger,
	}
}

func TestNavigatorGoto(t *testing.T) {
	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		clock := &browsertest.Clock{}
		page := browsertest.NewPage()
		page.Route = func(url string, n int) (string, error) {
			if n < 3 {
				return "", errors.New("net::ERR_CONNECTION_RESET")
			}
			return url, nil
		}

		resp, err := newNavigator(clock, nil).Goto(context.Background(), page, target)
		require.NoError(t, err)
		assert.Equal(t, target, resp.URL)
		assert.Len(t, page.Navigations(), 3)
		assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Sleeps())
	})

	t.Run("ExhaustionReturnsNavigationError", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		clock := &browsertest.Clock{}
		page := browsertest.NewPage()
		cause := errors.New("net::ERR_TIMED_OUT")
		page.Route = func(string, int) (string, error) { return "", cause }

		_, err := newNavigator(clock, zap.New(core)).Goto(context.Background(), page, target)

		var navErr *browser.NavigationError
		require.ErrorAs(t, err, &navErr)
		assert.Equal(t, target, navErr.URL)
		assert.Equal(t, 3, navErr.Attempts)
		assert.ErrorIs(t, err, cause)
		assert.Len(t, page.Navigations(), 3, "never more than the policy allows")
		assert.Len(t, clock.Sleeps(), 2, "no sleep after the final attempt")
		assert.Equal(t, 3, logs.FilterMessage("Navigation attempt failed.").Len())
	})

	t.Run("CancellationIsNotRetried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		page := browsertest.NewPage()
		page.Route = func(string, int) (string, error) {
			cancel()
			return "", errors.New("aborted")
		}

		_, err := newNavigator(&browsertest.Clock{}, nil).Goto(ctx, page, target)
		assert.ErrorIs(t, err, context.Canceled)
		var navErr *browser.NavigationError
		assert.False(t, errors.As(err, &navErr))
		assert.Len(t, page.Navigations(), 1)
	})

	t.Run("WithPolicyOverridesBounds", func(t *testing.T) {
		page := browsertest.NewPage()
		page.Route = func(string, int) (string, error) { return "", errors.New("down") }

		nav := newNavigator(&browsertest.Clock{}, nil).WithPolicy(retry.Policy{Attempts: 1})
		_, err := nav.Goto(context.Background(), page, target)
		require.Error(t, err)
		assert.Len(t, page.Navigations(), 1)
	})

	t.Run("RateLimited", func(t *testing.T) {
		page := browsertest.NewPage()
		nav := newNavigator(&browsertest.Clock{}, nil)
		nav.Limiter = browser.NewLimiter(1000)

		for i := 0; i < 3; i++ {
			_, err := nav.Goto(context.Background(), page, target)
			require.NoError(t, err)
		}
		assert.Len(t, page.Navigations(), 3)
	})
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, browser.NewLimiter(0))
	assert.NotNil(t, browser.NewLimiter(0.5))
}
