// Package browsertest provides scripted stand-ins for the browser package so
// automation logic can be tested without Chrome.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/listfill/internal/browser"
)

// Page is a scripted browser.Page. Route, Present and FindVisible run under
// the page lock and must not call back into the page. Zero-value hooks fall back to simple
// defaults: navigations land where they were pointed, selectors are present
// when listed in PresentSet, every control click succeeds.
type Page struct {
	mu sync.Mutex

	// Route decides where a navigation to url lands. n counts navigations to
	// url so far, starting at 1. A non-nil error is a failed navigation.
	Route func(url string, n int) (string, error)
	// Present reports whether selector matches on the document at currentURL.
	Present func(currentURL, selector string) bool
	// PresentSet is consulted when Present is nil.
	PresentSet map[string]bool
	// Texts and Attrs back Text and Attribute, keyed by selector and "selector@name".
	Texts map[string]string
	Attrs map[string]string
	// Document backs HTML. DocumentFor, when set, takes precedence.
	Document    string
	DocumentFor func(currentURL string) string
	// FindVisible overrides control lookup. n counts lookups, starting at 1.
	FindVisible func(q browser.ControlQuery, n int) (bool, error)
	// ClickResult overrides control clicks. n counts clicks, starting at 1.
	ClickResult func(n int) (bool, error)
	// SubmitLandsOn maps the current URL to the one reached by SubmitAndWait. Nil keeps the current URL.
	SubmitLandsOn func(currentURL string) (string, error)
	// OnClick runs after every Click, for scripting DOM changes.
	OnClick func(p *Page, selector string)

	url          string
	navCounts    map[string]int
	navigations  []string
	clicks       []string
	typed        map[string]string
	findCount    int
	controlClick int
	cookies      []browser.Cookie
	proxyUser    string
	proxyPass    string
	viewport     [2]int
	closed       bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns an empty scripted page on about:blank.
func NewPage() *Page {
	return &Page{url: "about:blank"}
}

func (p *Page) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return browser.ErrClosed
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) (*browser.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return nil, err
	}
	if p.navCounts == nil {
		p.navCounts = make(map[string]int)
	}
	p.navCounts[url]++
	p.navigations = append(p.navigations, url)

	landed := url
	if p.Route != nil {
		var err error
		landed, err = p.Route(url, p.navCounts[url])
		if err != nil {
			return nil, err
		}
	}
	p.url = landed
	return &browser.Response{URL: landed, Status: 200}, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	if p.DocumentFor != nil {
		return p.DocumentFor(p.url), nil
	}
	return p.Document, nil
}

func (p *Page) present(selector string) bool {
	if p.Present != nil {
		return p.Present(p.url, selector)
	}
	return p.PresentSet[selector]
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return false, err
	}
	return p.present(selector), nil
}

// WaitPresent never sleeps: an absent selector times out immediately.
func (p *Page) WaitPresent(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if p.present(selector) {
		return nil
	}
	return fmt.Errorf("%w: %s after %s", browser.ErrElementTimeout, selector, timeout)
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	if !p.present(selector) {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return p.Texts[selector], nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", false, err
	}
	if !p.present(selector) {
		return "", false, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	v, ok := p.Attrs[selector+"@"+name]
	return v, ok, nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if !p.present(selector) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	if p.typed == nil {
		p.typed = make(map[string]string)
	}
	p.typed[selector] = text
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if err := p.checkOpen(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	if !p.present(selector) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *Page) SubmitAndWait(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.Click(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	hook, current := p.SubmitLandsOn, p.url
	p.mu.Unlock()
	if hook == nil {
		return nil
	}

	landed, err := hook(current)
	if err != nil {
		return err
	}
	p.SetURL(landed)
	return nil
}

func (p *Page) FindVisibleControl(ctx context.Context, q browser.ControlQuery) (browser.Handle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", false, err
	}
	p.findCount++
	found := p.present(q.Selector)
	if p.FindVisible != nil {
		var err error
		found, err = p.FindVisible(q, p.findCount)
		if err != nil {
			return "", false, err
		}
	}
	if !found {
		return "", false, nil
	}
	return browser.Handle(fmt.Sprintf("handle-%d", p.findCount)), true, nil
}

func (p *Page) ClickControl(ctx context.Context, h browser.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return false, err
	}
	p.controlClick++
	if p.ClickResult != nil {
		return p.ClickResult(p.controlClick)
	}
	return true, nil
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return nil, err
	}
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.cookies = append(p.cookies[:0], cookies...)
	return nil
}

func (p *Page) AuthenticateProxy(ctx context.Context, username, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxyUser, p.proxyPass = username, password
	return p.checkOpen(ctx)
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = [2]int{width, height}
	return p.checkOpen(ctx)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetURL moves the page without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Navigations returns every URL passed to Navigate, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// NavigationsTo counts navigations whose URL contains substr.
func (p *Page) NavigationsTo(substr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.navigations {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

// Clicks returns every selector passed to Click or SubmitAndWait.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed returns the last text typed into selector.
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// ControlLookups is the number of FindVisibleControl calls.
func (p *Page) ControlLookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findCount
}

// ControlClicks is the number of ClickControl calls.
func (p *Page) ControlClicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.controlClick
}

// ProxyCredentials returns what AuthenticateProxy received.
func (p *Page) ProxyCredentials() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proxyUser, p.proxyPass
}

// Viewport returns the last size passed to SetViewport.
func (p *Page) Viewport() [2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
