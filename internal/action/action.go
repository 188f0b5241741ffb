// Package action runs the add action for one catalog entry against the
// site's dialog UI.
package action

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/account"
	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/config"
	"github.com/xkilldash9x/listfill/internal/retry"
	"github.com/xkilldash9x/listfill/internal/session"
	"github.com/xkilldash9x/listfill/internal/site"
)

// Outcome is the terminal state of one attempt.
type Outcome int

const (
	Failed Outcome = iota
	Added
	AlreadyApplied
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case AlreadyApplied:
		return "already_applied"
	default:
		return "failed"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result describes one attempt.
type Result struct {
	EntryID int
	Attempt int
	Outcome Outcome
	// Reason explains a Failed outcome.
	Reason error
	// SessionRecovered is set when the attempt had to log in again. Session
	// then holds the new session.
	SessionRecovered bool
	Session          *session.Session
}

// Authenticator performs a fresh login.
type Authenticator interface {
	Authenticate(ctx context.Context, page browser.Page, acc account.Account) (*session.Session, error)
}

// Executor drives the add dialog.
type Executor struct {
	site  *site.Site
	nav   browser.Navigator
	auth  Authenticator
	cfg   config.ActionConfig
	clock retry.Clock
	log   *zap.Logger
}

// NewExecutor wires an Executor. nav is used with the action navigation policy
// and its Timer paces the button search and click retries.
func NewExecutor(s *site.Site, nav browser.Navigator, auth Authenticator, cfg config.ActionConfig, clock retry.Clock, logger *zap.Logger) *Executor {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	return &Executor{
		site:  s,
		nav:   nav.WithPolicy(cfg.Navigation),
		auth:  auth,
		cfg:   cfg,
		clock: clock,
		log:   logger.Named("action"),
	}
}

// Add runs attempt number attempt of the add action for entryID.
//
// Soft failures (unexpected redirect, dialog timeout, missing submit control)
// come back as a Failed result with a nil error. Navigation exhaustion, a
// failed re-login and a click that never lands are returned as errors.
func (e *Executor) Add(ctx context.Context, page browser.Page, acc account.Account, entryID, attempt int) (Result, error) {
	res := Result{EntryID: entryID, Attempt: attempt}
	log := e.log.With(zap.String("account", acc.ID), zap.Int("entry_id", entryID), zap.Int("attempt", attempt))
	log.Info("Adding entry.")

	url := e.site.AddURL(entryID)
	resp, err := e.nav.Goto(ctx, page, url)
	if err != nil {
		return res, err
	}

	if e.site.IsLoginRedirect(resp.URL) {
		log.Warn("Session expired, logging in again.")
		sess, err := e.auth.Authenticate(ctx, page, acc)
		if err != nil {
			return res, fmt.Errorf("re-authenticating: %w", err)
		}
		res.SessionRecovered = true
		res.Session = sess

		resp, err = e.nav.Goto(ctx, page, url)
		if err != nil {
			return res, err
		}
	}

	switch {
	case e.site.IsAlreadyAppliedRedirect(resp.URL):
		log.Info("Redirected to edit page, entry already in list.", zap.String("url", resp.URL))
		res.Outcome = AlreadyApplied
		return res, nil
	case !e.site.IsExpectedAddPath(resp.URL):
		log.Warn("Unexpected redirect.", zap.String("url", resp.URL))
		return e.fail(res, &UnexpectedRedirectError{EntryID: entryID, URL: resp.URL}), nil
	}

	sel := e.site.Selectors
	if err := page.WaitPresent(ctx, sel.DialogHeader, e.cfg.DialogTimeout); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("Dialog failed to load.", zap.Error(err))
		return e.fail(res, &DialogTimeoutError{EntryID: entryID, Timeout: e.cfg.DialogTimeout, Err: err}), nil
	}

	handle, err := e.findSubmit(ctx, page, log)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("Submit control not found.")
		return e.fail(res, &ButtonNotFoundError{EntryID: entryID, Attempts: e.cfg.ButtonSearch.MaxAttempts(), Err: err}), nil
	}

	if err := e.clickSubmit(ctx, page, handle, log); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		clickErr := &ClickFailedError{EntryID: entryID, Attempts: e.cfg.Click.MaxAttempts(), Err: err}
		return e.fail(res, clickErr), clickErr
	}

	if err := e.clock.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return res, err
	}
	e.closeDialog(ctx, page, log)

	log.Info("Entry added.")
	res.Outcome = Added
	return res, nil
}

func (e *Executor) fail(res Result, reason error) Result {
	res.Outcome = Failed
	res.Reason = reason
	return res
}

func (e *Executor) findSubmit(ctx context.Context, page browser.Page, log *zap.Logger) (browser.Handle, error) {
	query := browser.ControlQuery{Selector: e.site.Selectors.SubmitButton, Visible: true}

	var handle browser.Handle
	err := retry.Do(ctx, e.cfg.ButtonSearch, e.nav.Timer, func(ctx context.Context, attempt int) error {
		log.Debug("Searching for visible submit control.", zap.Int("try", attempt))
		h, found, err := page.FindVisibleControl(ctx, query)
		if err != nil {
			return err
		}
		if !found {
			return errNotVisible
		}
		handle = h
		return nil
	}, func(attempt int, err error) {
		log.Debug("Submit control not visible yet.", zap.Int("try", attempt), zap.Error(err))
	})
	return handle, err
}

func (e *Executor) clickSubmit(ctx context.Context, page browser.Page, handle browser.Handle, log *zap.Logger) error {
	return retry.Do(ctx, e.cfg.Click, e.nav.Timer, func(ctx context.Context, attempt int) error {
		clicked, err := page.ClickControl(ctx, handle)
		if err != nil {
			return err
		}
		if !clicked {
			return errNotInteractable
		}
		return nil
	}, func(attempt int, err error) {
		log.Debug("Submit control click failed.", zap.Int("try", attempt), zap.Error(err))
	})
}

// closeDialog dismisses a dialog that stayed open after submitting. Best effort.
func (e *Executor) closeDialog(ctx context.Context, page browser.Page, log *zap.Logger) {
	sel := e.site.Selectors
	open, err := page.Exists(ctx, sel.DialogHeader)
	if err != nil || !open {
		return
	}
	present, err := page.Exists(ctx, sel.DialogClose)
	if err != nil || !present {
		return
	}
	log.Debug("Closing dialog.")
	if err := page.Click(ctx, sel.DialogClose); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Debug("Could not close dialog.", zap.Error(err))
		}
		return
	}
	_ = e.clock.Sleep(ctx, e.cfg.CloseDelay)
}
