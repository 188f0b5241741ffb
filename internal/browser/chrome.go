// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/browser/stealth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	handleAttribute = "data-listfill-handle"
	// interactTimeout bounds waits for a node to become visible before typing or clicking.
	interactTimeout = 5 * time.Second
	cleanupTimeout  = 2 * time.Second
)

var (
	_ Driver = (*ChromeDriver)(nil)
	_ Page   = (*chromePage)(nil)
)

// ChromeDriver launches Chrome through the DevTools protocol.
type ChromeDriver struct {
	logger        *zap.Logger
	launchTimeout time.Duration
}

// NewChromeDriver returns a Driver backed by chromedp.
func NewChromeDriver(logger *zap.Logger, launchTimeout time.Duration) *ChromeDriver {
	return &ChromeDriver{logger: logger.Named("chrome"), launchTimeout: launchTimeout}
}

// Launch starts a browser process. It lives until Close or until ctx is canceled.
func (d *ChromeDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(d.logger.Sugar().Debugf))

	// The first Run allocates the browser. It must use browserCtx itself:
	// canceling a derived context there would tear the browser down again.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	var timeout <-chan time.Time
	if d.launchTimeout > 0 {
		timer := time.NewTimer(d.launchTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case err = <-started:
	case <-timeout:
		err = fmt.Errorf("no browser after %s", d.launchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d.logger.Debug("Browser launched.",
		zap.Bool("headless", opts.Headless),
		zap.Bool("proxied", opts.ProxyServer != ""))
	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      d.logger,
		persona:     personaFor(opts),
		firstTab:    true,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	persona     stealth.Persona

	mu       sync.Mutex
	firstTab bool
	closed   bool
}

// NewPage hands out the initial tab first and opens new tabs afterwards.
func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var p *chromePage
	if b.firstTab {
		b.firstTab = false
		// The browser context owns the first tab; closing the page must not close the browser.
		p = newChromePage(b.ctx, func() {}, b.logger)
	} else {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tabCtx, tabCancel := chromedp.NewContext(b.ctx)
		if err := chromedp.Run(tabCtx); err != nil {
			tabCancel()
			return nil, fmt.Errorf("failed to open tab: %w", err)
		}
		p = newChromePage(tabCtx, tabCancel, b.logger)
	}

	if err := p.run(ctx, stealth.Apply(b.persona, b.logger)); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to apply persona: %w", err)
	}
	return p, nil
}

// personaFor builds the tab persona for a launch.
func personaFor(opts LaunchOptions) stealth.Persona {
	p := stealth.DefaultPersona
	if opts.UserAgent != "" {
		p.UserAgent = opts.UserAgent
	}
	if opts.Locale != "" {
		p.Locale = opts.Locale
		p.Languages = languagesFor(opts.Locale)
	}
	p.Timezone = opts.Timezone
	return p
}

// languagesFor lists a locale followed by its base language: "ja-JP" gives
// ["ja-JP", "ja"].
func languagesFor(locale string) []string {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return []string{locale}
	}
	return []string{locale, base}
}

func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// Graceful close first; the allocator cancel kills the process if that fails.
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newChromePage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *chromePage {
	return &chromePage{ctx: ctx, cancel: cancel, logger: logger}
}

// run executes actions bounded by both the tab lifetime and ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) (*Response, error) {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, err
	}
	var final string
	if err := chromedp.Run(runCtx, chromedp.Location(&final)); err != nil {
		return nil, fmt.Errorf("reading location: %w", err)
	}
	out := &Response{URL: final}
	if resp != nil {
		out.Status = int(resp.Status)
	}
	return out, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, jsonEncode(selector))
	err := p.run(ctx, chromedp.Evaluate(js, &found))
	return found, err
}

func (p *chromePage) WaitPresent(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrElementTimeout, selector, timeout)
	}
	return err
}

// elementRead is the JS shape returned by Text and Attribute.
type elementRead struct {
	Found bool   `json:"found"`
	Set   bool   `json:"set"`
	Value string `json:"value"`
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var res elementRead
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? {found: true, set: true, value: el.textContent || ""} : {found: false, set: false, value: ""};
	})()`, jsonEncode(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return res.Value, nil
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res elementRead
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {found: false, set: false, value: ""};
		const v = el.getAttribute(%s);
		return {found: true, set: v !== null, value: v || ""};
	})()`, jsonEncode(selector), jsonEncode(name))
	if err := p.run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return "", false, err
	}
	if !res.Found {
		return "", false, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return res.Value, res.Set, nil
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.interact(ctx, selector,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.interact(ctx, selector, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// interact runs actions that wait for selector to be visible. A node that
// stays hidden yields ErrElementTimeout after interactTimeout.
func (p *chromePage) interact(ctx context.Context, selector string, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, interactTimeout)
	defer cancel()

	err := p.run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s not visible after %s", ErrElementTimeout, selector, interactTimeout)
	}
	return err
}

func (p *chromePage) SubmitAndWait(ctx context.Context, selector string, timeout time.Duration) error {
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	loaded := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := p.Click(ctx, selector); err != nil {
		return fmt.Errorf("submitting via %s: %w", selector, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("no page load within %s after submitting via %s", timeout, selector)
	}
}

func (p *chromePage) FindVisibleControl(ctx context.Context, q ControlQuery) (Handle, bool, error) {
	token := uuid.NewString()
	var found bool
	js := fmt.Sprintf(`(() => {
		const visibleOnly = %t;
		for (const el of document.querySelectorAll(%s)) {
			if (visibleOnly && (getComputedStyle(el).display === "none" || el.offsetParent === null)) continue;
			el.setAttribute(%s, %s);
			return true;
		}
		return false;
	})()`, q.Visible, jsonEncode(q.Selector), jsonEncode(handleAttribute), jsonEncode(token))
	if err := p.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return Handle(token), true, nil
}

func (p *chromePage) ClickControl(ctx context.Context, h Handle) (bool, error) {
	selector := fmt.Sprintf(`[%s="%s"]`, handleAttribute, string(h))

	// The click is dispatched in the page so it lands on the node whatever
	// the scroll animation is doing.
	var clicked bool
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el || el.offsetParent === null) return false;
		el.scrollIntoView({block: "center", behavior: "smooth"});
		el.click();
		return true;
	})()`, jsonEncode(selector))

	clickCtx, cancel := context.WithTimeout(ctx, interactTimeout)
	defer cancel()
	if err := p.run(clickCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}
	if !clicked {
		return false, nil
	}
	p.releaseHandle(ctx, selector)
	return true, nil
}

// releaseHandle removes the temporary handle attribute. The click may have
// navigated away, so failures are only logged.
func (p *chromePage) releaseHandle(ctx context.Context, selector string) {
	cleanupCtx, cancel := context.WithTimeout(Detach(ctx), cleanupTimeout)
	defer cancel()

	js := fmt.Sprintf(`document.querySelector(%s)?.removeAttribute(%s)`, jsonEncode(selector), jsonEncode(handleAttribute))
	if err := p.run(cleanupCtx, chromedp.Evaluate(js, nil)); err != nil && cleanupCtx.Err() == nil {
		p.logger.Debug("Could not release control handle.", zap.String("selector", selector), zap.Error(err))
	}
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return cookies, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookies(params).Do(c)
	}))
}

func (p *chromePage) AuthenticateProxy(ctx context.Context, username, password string) error {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil && p.ctx.Err() == nil {
					p.logger.Debug("Could not continue paused request.", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil && p.ctx.Err() == nil {
					p.logger.Warn("Could not answer proxy auth challenge.", zap.Error(err))
				}
			}()
		}
	})
	return p.run(ctx, fetch.Enable().WithHandleAuthRequests(true))
}

func (p *chromePage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}

// jsonEncode renders v as a JavaScript literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
