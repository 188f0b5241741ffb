package browsertest

import (
	"context"
	"sync"

	"github.com/xkilldash9x/listfill/internal/browser"
)

// Driver hands out scripted browsers and records how they were launched.
type Driver struct {
	mu sync.Mutex

	// NewPage builds the page for the n-th launch, starting at 1.
	NewPage func(n int, opts browser.LaunchOptions) *Page
	// LaunchErr, when set, fails every launch.
	LaunchErr error

	launches []browser.LaunchOptions
	browsers []*Browser
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.launches = append(d.launches, opts)
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}

	page := NewPage()
	if d.NewPage != nil {
		page = d.NewPage(len(d.launches), opts)
	}
	b := &Browser{page: page}
	d.browsers = append(d.browsers, b)
	return b, nil
}

// Launches returns the options of every launch, in order.
func (d *Driver) Launches() []browser.LaunchOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.LaunchOptions(nil), d.launches...)
}

// Browsers returns every browser launched so far.
func (d *Driver) Browsers() []*Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Browser(nil), d.browsers...)
}

// Browser is a scripted browser holding a single page.
type Browser struct {
	mu     sync.Mutex
	page   *Page
	closed bool
}

var _ browser.Browser = (*Browser)(nil)

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrClosed
	}
	return b.page, ctx.Err()
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Page returns the browser's page.
func (b *Browser) Page() *Page { return b.page }

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
