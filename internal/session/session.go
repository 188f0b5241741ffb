// Package session establishes and validates authenticated sessions on the
// catalog site.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/account"
	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/config"
	"github.com/xkilldash9x/listfill/internal/retry"
	"github.com/xkilldash9x/listfill/internal/site"
	"github.com/xkilldash9x/listfill/internal/store"
)

// Session is the authenticated state of one account in one browser.
type Session struct {
	AccountID     string
	Cookies       []browser.Cookie
	CSRFToken     string
	EstablishedAt time.Time
	// Restored is set when the session came from a snapshot instead of a login.
	Restored bool
}

// AuthenticationError reports a login the site rejected.
type AuthenticationError struct {
	AccountID string
	Reason    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("login failed for %s: %s", e.AccountID, e.Reason)
}

// Snapshots persists cookie snapshots.
type Snapshots interface {
	Save(accountID string, cookies []browser.Cookie) error
	Load(accountID string) ([]browser.Cookie, error)
}

// Manager logs accounts in and checks whether their session still holds.
type Manager struct {
	site       *site.Site
	nav        browser.Navigator
	snapshots  Snapshots
	cfg        config.SessionConfig
	navTimeout time.Duration
	clock      retry.Clock
	log        *zap.Logger
	now        func() time.Time
}

// NewManager wires a Manager. nav is used with the session navigation policy;
// navTimeout bounds the wait for the post-login page load.
func NewManager(s *site.Site, nav browser.Navigator, snapshots Snapshots, cfg config.SessionConfig, navTimeout time.Duration, clock retry.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	return &Manager{
		site:       s,
		nav:        nav.WithPolicy(cfg.Navigation),
		snapshots:  snapshots,
		cfg:        cfg,
		navTimeout: navTimeout,
		clock:      clock,
		log:        logger.Named("session"),
		now:        time.Now,
	}
}

// Authenticate performs a fresh login and returns the resulting session.
func (m *Manager) Authenticate(ctx context.Context, page browser.Page, acc account.Account) (*Session, error) {
	log := m.log.With(zap.String("account", acc.ID))
	sel := m.site.Selectors

	log.Info("Navigating to login page.")
	if _, err := m.nav.Goto(ctx, page, m.site.LoginURL()); err != nil {
		return nil, fmt.Errorf("opening login page: %w", err)
	}

	m.dismissConsent(ctx, page, log)

	log.Info("Entering credentials.")
	if err := page.WaitPresent(ctx, sel.UsernameInput, m.cfg.ElementTimeout); err != nil {
		return nil, fmt.Errorf("waiting for login form: %w", err)
	}
	if err := page.Type(ctx, sel.UsernameInput, acc.ID); err != nil {
		return nil, fmt.Errorf("typing identifier: %w", err)
	}
	if err := page.Type(ctx, sel.PasswordInput, acc.Secret); err != nil {
		return nil, fmt.Errorf("typing secret: %w", err)
	}

	if err := page.WaitPresent(ctx, sel.LoginSubmit, m.cfg.ElementTimeout); err != nil {
		return nil, fmt.Errorf("waiting for login submit: %w", err)
	}
	if err := page.SubmitAndWait(ctx, sel.LoginSubmit, m.navTimeout); err != nil {
		return nil, fmt.Errorf("submitting login: %w", err)
	}

	if reason := m.loginError(ctx, page); reason != "" {
		return nil, &AuthenticationError{AccountID: acc.ID, Reason: reason}
	}
	log.Info("Login successful.")

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		AccountID:     acc.ID,
		Cookies:       cookies,
		CSRFToken:     m.csrfToken(ctx, page, log),
		EstablishedAt: m.now(),
	}

	// The snapshot is an audit artifact only.
	if err := m.snapshots.Save(acc.ID, cookies); err != nil {
		log.Warn("Could not save session snapshot.", zap.Error(err))
	}
	return sess, nil
}

func (m *Manager) dismissConsent(ctx context.Context, page browser.Page, log *zap.Logger) {
	sel := m.site.Selectors.ConsentButton
	present, err := page.Exists(ctx, sel)
	if err != nil || !present {
		return
	}
	log.Info("Consent dialog found, accepting.")
	if err := page.Click(ctx, sel); err != nil {
		log.Debug("Could not dismiss consent dialog.", zap.Error(err))
		return
	}
	_ = m.clock.Sleep(ctx, m.cfg.ConsentDelay)
}

// loginError returns the trimmed error banner text, or "" when there is none.
func (m *Manager) loginError(ctx context.Context, page browser.Page) string {
	sel := m.site.Selectors.LoginError
	present, err := page.Exists(ctx, sel)
	if err != nil || !present {
		return ""
	}
	text, err := page.Text(ctx, sel)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (m *Manager) csrfToken(ctx context.Context, page browser.Page, log *zap.Logger) string {
	sel := m.site.Selectors.CSRFMeta
	present, err := page.Exists(ctx, sel)
	if err != nil || !present {
		return ""
	}
	token, _, err := page.Attribute(ctx, sel, "content")
	if err != nil {
		log.Debug("Could not read anti-forgery token.", zap.Error(err))
		return ""
	}
	return token
}

// IsValid loads the protected page and reports whether it stayed there.
// It never changes session state.
func (m *Manager) IsValid(ctx context.Context, page browser.Page) (bool, error) {
	resp, err := m.nav.Goto(ctx, page, m.site.ProtectedURL())
	if err != nil {
		return false, fmt.Errorf("probing session: %w", err)
	}
	valid := !m.site.IsLoginRedirect(resp.URL)
	m.log.Debug("Session probed.", zap.Bool("valid", valid), zap.String("landed", resp.URL))
	return valid, nil
}

// Establish makes sure the page holds an authenticated session for acc.
// Without snapshot reuse this is always a fresh login.
func (m *Manager) Establish(ctx context.Context, page browser.Page, acc account.Account) (*Session, error) {
	if !m.cfg.ReuseSnapshot {
		return m.Authenticate(ctx, page, acc)
	}

	log := m.log.With(zap.String("account", acc.ID))
	cookies, err := m.snapshots.Load(acc.ID)
	if err != nil {
		if !errors.Is(err, store.ErrSnapshotNotFound) {
			log.Warn("Could not read session snapshot.", zap.Error(err))
		}
		return m.Authenticate(ctx, page, acc)
	}
	if err := page.SetCookies(ctx, cookies); err != nil {
		log.Warn("Could not restore session cookies.", zap.Error(err))
		return m.Authenticate(ctx, page, acc)
	}

	valid, err := m.IsValid(ctx, page)
	if err != nil {
		return nil, err
	}
	if !valid {
		log.Info("Restored session is stale, logging in.")
		return m.Authenticate(ctx, page, acc)
	}

	log.Info("Restored session from snapshot.")
	return &Session{
		AccountID:     acc.ID,
		Cookies:       cookies,
		CSRFToken:     m.csrfToken(ctx, page, log),
		EstablishedAt: m.now(),
		Restored:      true,
	}, nil
}
