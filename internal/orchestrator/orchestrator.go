// File: internal/orchestrator/orchestrator.go
// Description: Drives accounts through pages and entries. Components are
// injected through interfaces so the loop can be tested without a browser.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/account"
	"github.com/xkilldash9x/listfill/internal/action"
	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/catalog"
	"github.com/xkilldash9x/listfill/internal/config"
	"github.com/xkilldash9x/listfill/internal/observability"
	"github.com/xkilldash9x/listfill/internal/retry"
	"github.com/xkilldash9x/listfill/internal/session"
	"github.com/xkilldash9x/listfill/internal/store"
)

const recordTimeout = 10 * time.Second

// SessionManager establishes and checks sessions.
type SessionManager interface {
	Establish(ctx context.Context, page browser.Page, acc account.Account) (*session.Session, error)
	Authenticate(ctx context.Context, page browser.Page, acc account.Account) (*session.Session, error)
	IsValid(ctx context.Context, page browser.Page) (bool, error)
}

// Scanner reads catalog pages.
type Scanner interface {
	ScanPage(ctx context.Context, page browser.Page, pageIndex int) ([]catalog.Entry, error)
}

// Executor runs one add attempt.
type Executor interface {
	Add(ctx context.Context, page browser.Page, acc account.Account, entryID, attempt int) (action.Result, error)
}

// Sweeper removes diagnostic leftovers.
type Sweeper interface {
	Sweep(dir, pattern string) ([]string, error)
}

// Recorder persists account outcomes.
type Recorder interface {
	RecordAccount(ctx context.Context, run store.AccountRun) error
}

// Dependencies are the components the orchestrator drives. Recorder and
// Clock are optional.
type Dependencies struct {
	Driver   browser.Driver
	Sessions SessionManager
	Scanner  Scanner
	Executor Executor
	Sweeper  Sweeper
	Recorder Recorder
	Clock    retry.Clock
}

// Orchestrator processes accounts strictly one after another.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Dependencies

	newRunID func() string
	now      func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Driver == nil ||
		deps.Sessions == nil ||
		deps.Scanner == nil ||
		deps.Executor == nil ||
		deps.Sweeper == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if deps.Clock == nil {
		deps.Clock = retry.SystemClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		deps:     deps,
		newRunID: uuid.NewString,
		now:      time.Now,
	}, nil
}

// runState is the mutable progress of one account. It is passed by value
// through the loop and only ever changed here.
type runState struct {
	account        account.Account
	pageCursor     int
	tasksCompleted int
	taskBudget     int
	session        *session.Session
}

func (s runState) budgetReached() bool {
	return s.tasksCompleted >= s.taskBudget
}

// Run processes accounts in input order. Account failures are recorded in
// the summary and do not stop the run; a browser launch failure or
// cancellation of ctx does. The diagnostics sweep runs in every case.
func (o *Orchestrator) Run(ctx context.Context, accounts []account.Account) (summary *RunSummary, err error) {
	summary = &RunSummary{RunID: o.newRunID(), StartedAt: o.now()}
	log := o.logger.With(zap.String("run_id", summary.RunID))
	log.Info("Run starting.", zap.Int("accounts", len(accounts)))

	defer func() {
		o.sweep(summary, log)
		summary.FinishedAt = o.now()
		o.logSummary(summary, log)
	}()

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		accSummary, fatal := o.runAccount(ctx, acc)
		summary.Accounts = append(summary.Accounts, accSummary)
		o.record(ctx, summary.RunID, accSummary, log)

		if fatal != nil {
			log.Error("Run aborted.", zap.Error(fatal))
			return summary, fatal
		}
	}
	return summary, nil
}

// runAccount owns one browser from launch to close. The returned error is
// non-nil only for failures that must abort the whole run.
func (o *Orchestrator) runAccount(ctx context.Context, acc account.Account) (AccountSummary, error) {
	summary := AccountSummary{AccountID: acc.ID, StartedAt: o.now()}
	log := observability.ForAccount(o.logger, acc.ID)
	defer func() { summary.FinishedAt = o.now() }()

	opts := o.launchOptions(acc)
	if acc.Proxy != nil {
		log.Info("Using proxy.", zap.String("proxy", acc.Proxy.Server))
	} else {
		log.Info("No proxy specified.")
	}

	b, err := o.deps.Driver.Launch(ctx, opts)
	if err != nil {
		err = fmt.Errorf("launching browser for %s: %w", acc.ID, err)
		summary.fail(err)
		return summary, err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("Could not close browser.", zap.Error(err))
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		err = fmt.Errorf("opening page for %s: %w", acc.ID, err)
		summary.fail(err)
		return summary, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("Could not close page.", zap.Error(err))
		}
	}()

	log.Info("Processing account.")
	state := runState{account: acc, taskBudget: o.cfg.Run.TaskBudget}
	state, err = o.processAccount(ctx, page, state, &summary, log)
	summary.TasksCompleted = state.tasksCompleted
	if err != nil {
		log.Error("Account failed.", zap.Error(err), zap.Int("tasks_completed", state.tasksCompleted))
		summary.fail(err)
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, nil
	}
	log.Info("All tasks completed for account.", zap.Int("tasks_completed", state.tasksCompleted))
	return summary, nil
}

func (o *Orchestrator) launchOptions(acc account.Account) browser.LaunchOptions {
	b := o.cfg.Browser
	opts := browser.LaunchOptions{
		Headless:   b.Headless,
		ExecPath:   b.ExecPath,
		Args:       b.Args,
		UserAgent:  b.UserAgent,
		WindowSize: [2]int{b.Viewport.Width, b.Viewport.Height},
		Locale:     b.Locale,
		Timezone:   b.Timezone,
	}
	if acc.Proxy != nil {
		opts.ProxyServer = acc.Proxy.Server
	}
	return opts
}

func (o *Orchestrator) processAccount(ctx context.Context, page browser.Page, state runState, summary *AccountSummary, log *zap.Logger) (runState, error) {
	if state.account.Proxy.HasCredentials() {
		if err := page.AuthenticateProxy(ctx, state.account.Proxy.Username, state.account.Proxy.Password); err != nil {
			return state, fmt.Errorf("configuring proxy credentials: %w", err)
		}
	}
	vp := o.cfg.Browser.Viewport
	if err := page.SetViewport(ctx, vp.Width, vp.Height); err != nil {
		return state, fmt.Errorf("setting viewport: %w", err)
	}

	log.Info("Logging in to ensure a fresh session.")
	sess, err := o.deps.Sessions.Establish(ctx, page, state.account)
	if err != nil {
		return state, fmt.Errorf("establishing session: %w", err)
	}
	state.session = sess

	for pageIndex := 1; pageIndex <= o.cfg.Run.MaxPages; pageIndex++ {
		state.pageCursor = pageIndex
		entries, err := o.deps.Scanner.ScanPage(ctx, page, pageIndex)
		if err != nil {
			return state, fmt.Errorf("scanning page %d: %w", pageIndex, err)
		}

		for _, entry := range entries {
			if state.budgetReached() {
				log.Info("Task budget reached, stopping account.", zap.Int("budget", state.taskBudget))
				return state, nil
			}
			state.tasksCompleted++

			if !entry.Actionable() {
				summary.add(EntryResult{Entry: entry, Outcome: action.AlreadyApplied, Skipped: true})
				log.Info("Skipped entry already in list.",
					zap.Int("task", state.tasksCompleted),
					zap.Int("budget", state.taskBudget),
					zap.Int("entry_id", entry.ID),
					zap.String("title", entry.Title),
					zap.String("status", entry.Status))
				continue
			}

			var result EntryResult
			state, result, err = o.processEntry(ctx, page, state, entry, log)
			summary.add(result)
			if err != nil {
				return state, err
			}
			if result.Outcome == action.Added {
				log.Info("Added entry.",
					zap.Int("task", state.tasksCompleted),
					zap.Int("budget", state.taskBudget),
					zap.Int("entry_id", entry.ID),
					zap.String("title", entry.Title))
			}

			// Anti-rate-limit pause, whatever the outcome.
			if err := o.deps.Clock.Sleep(ctx, o.cfg.Run.EntryDelay); err != nil {
				return state, err
			}
		}

		if state.budgetReached() {
			log.Info("Task budget reached, stopping account.", zap.Int("budget", state.taskBudget))
			return state, nil
		}
		log.Info("Page complete.", zap.Int("page", pageIndex), zap.Int("tasks_completed", state.tasksCompleted))
	}
	return state, nil
}

// processEntry runs the bounded attempt protocol for one actionable entry.
// The returned error is non-nil only when the account cannot continue.
func (o *Orchestrator) processEntry(ctx context.Context, page browser.Page, state runState, entry catalog.Entry, log *zap.Logger) (runState, EntryResult, error) {
	result := EntryResult{Entry: entry, Outcome: action.Failed}
	log = log.With(zap.Int("entry_id", entry.ID), zap.String("title", entry.Title))

	for attempt := 1; attempt <= o.cfg.Run.AttemptsPerEntry; attempt++ {
		var (
			res action.Result
			err error
		)
		state, err = o.revalidate(ctx, page, state, log)
		if err == nil {
			res, err = o.deps.Executor.Add(ctx, page, state.account, entry.ID, attempt)
			if res.SessionRecovered && res.Session != nil {
				state.session = res.Session
			}
		}
		res.EntryID, res.Attempt = entry.ID, attempt

		if err != nil {
			res.Outcome, res.Reason = action.Failed, err
			result.Attempts = append(result.Attempts, res)
			result.Reason = err.Error()
			log.Warn("Attempt failed.", zap.Int("attempt", attempt), zap.Error(err))

			if ctx.Err() != nil {
				return state, result, ctx.Err()
			}
			var authErr *session.AuthenticationError
			if errors.As(err, &authErr) {
				return state, result, err
			}
			continue
		}

		result.Attempts = append(result.Attempts, res)
		result.Outcome = res.Outcome
		switch res.Outcome {
		case action.Added:
			result.Reason = ""
			return state, result, nil
		case action.AlreadyApplied:
			result.Reason = ""
			log.Info("Entry already applied.", zap.Int("attempt", attempt))
			return state, result, nil
		}
		if res.Reason != nil {
			result.Reason = res.Reason.Error()
		}
		log.Warn("Attempt failed.", zap.Int("attempt", attempt), zap.String("reason", result.Reason))
	}

	log.Error("Failed to add entry after all attempts.", zap.Int("attempts", len(result.Attempts)))
	return state, result, nil
}

// revalidate probes the session and logs in again when it has lapsed.
func (o *Orchestrator) revalidate(ctx context.Context, page browser.Page, state runState, log *zap.Logger) (runState, error) {
	valid, err := o.deps.Sessions.IsValid(ctx, page)
	if err != nil {
		return state, err
	}
	if valid {
		return state, nil
	}
	var fields []zap.Field
	if prev := state.session; prev != nil {
		fields = append(fields,
			zap.Duration("session_age", o.now().Sub(prev.EstablishedAt)),
			zap.Bool("restored", prev.Restored))
	}
	log.Info("Session invalid, logging in again.", fields...)
	sess, err := o.deps.Sessions.Authenticate(ctx, page, state.account)
	if err != nil {
		return state, err
	}
	state.session = sess
	if sess != nil {
		log.Info("Session re-established.", zap.Bool("csrf_token", sess.CSRFToken != ""))
	}
	return state, nil
}

func (o *Orchestrator) record(ctx context.Context, runID string, s AccountSummary, log *zap.Logger) {
	if o.deps.Recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.deps.Recorder.RecordAccount(recCtx, s.Record(runID)); err != nil {
		log.Warn("Could not record account outcomes.", zap.String("account", s.AccountID), zap.Error(err))
	}
}

func (o *Orchestrator) sweep(summary *RunSummary, log *zap.Logger) {
	log.Info("Cleaning up diagnostic files.")
	removed, err := o.deps.Sweeper.Sweep(o.cfg.Run.DiagnosticsDir, o.cfg.Run.DiagnosticsPattern)
	if err != nil {
		log.Warn("Diagnostic cleanup incomplete.", zap.Error(err))
	}
	summary.Swept = removed
}

func (o *Orchestrator) logSummary(summary *RunSummary, log *zap.Logger) {
	for _, a := range summary.Accounts {
		fields := []zap.Field{
			zap.String("account", a.AccountID),
			zap.Int("tasks_completed", a.TasksCompleted),
			zap.Int("added", a.Added),
			zap.Int("already_applied", a.AlreadyApplied),
			zap.Int("failed", a.Failed),
		}
		if a.Err != nil {
			fields = append(fields, zap.Error(a.Err))
		}
		log.Info("Account summary.", fields...)
	}
	log.Info("Run finished.", zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
}
