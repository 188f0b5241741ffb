// internal/browser/interface.go
package browser

import (
	"context"
	"time"
)

// Response describes where a navigation ended up.
type Response struct {
	// URL is the final URL after redirects.
	URL    string
	Status int
}

// Cookie is a browser cookie in a driver-neutral shape. It is also the
// on-disk representation of a session snapshot.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ControlQuery selects a single interactive control.
type ControlQuery struct {
	Selector string
	// Visible restricts matches to elements whose computed display is not
	// "none" and that have a non-null offsetParent.
	Visible bool
}

// Handle refers to a control found by FindVisibleControl. It stays valid
// until the document changes.
type Handle string

// LaunchOptions configures one browser process.
type LaunchOptions struct {
	Headless bool
	ExecPath string
	Args     []string
	// ProxyServer is scheme://host:port without credentials.
	ProxyServer string
	UserAgent   string
	WindowSize  [2]int
	// Locale and Timezone feed the page persona. An empty Locale means en-US;
	// an empty Timezone keeps the host's.
	Locale   string
	Timezone string
}

// Driver launches browsers.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is the capability surface the automation needs from a single tab.
type Page interface {
	Navigate(ctx context.Context, url string) (*Response, error)
	// HTML returns the outer HTML of the rendered document.
	HTML(ctx context.Context) (string, error)

	Exists(ctx context.Context, selector string) (bool, error)
	// WaitPresent blocks until selector matches or timeout elapses, in which
	// case the error wraps ErrElementTimeout.
	WaitPresent(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string) (string, error)
	// Attribute returns the attribute value and whether it was set.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)

	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	// SubmitAndWait clicks selector and waits for the resulting page load.
	SubmitAndWait(ctx context.Context, selector string, timeout time.Duration) error

	FindVisibleControl(ctx context.Context, q ControlQuery) (Handle, bool, error)
	// ClickControl scrolls the control into view and clicks it. It reports
	// false without error when the control is not interactable.
	ClickControl(ctx context.Context, h Handle) (bool, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	// AuthenticateProxy answers proxy auth challenges with the given credentials.
	AuthenticateProxy(ctx context.Context, username, password string) error
	SetViewport(ctx context.Context, width, height int) error

	Close() error
}
