// internal/browser/chrome_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// -- Test Fixture --

const (
	fixtureTimeout     = 90 * time.Second
	fixtureLaunchLimit = 30 * time.Second
)

const controlsPage = `<!DOCTYPE html>
<html><head><title>controls</title></head><body>
<h3 class="h1">Add to My List</h3>
<input type="button" id="hidden" class="inputButton main_submit" value="Submit" style="display:none" onclick="document.title='hidden'">
<div style="height:3000px"></div>
<input type="button" id="visible" class="inputButton main_submit" value="Submit" onclick="document.title='clicked'">
<a id="close" class="close" href="#" style="display:none">x</a>
</body></html>`

const loginPage = `<!DOCTYPE html>
<html><head><title>login</title></head><body>
<form action="/welcome" method="post">
<input type="text" id="user" name="user">
<input type="submit" id="go" value="Login">
</form>
</body></html>`

type chromeFixture struct {
	ctx    context.Context
	page   Page
	server *httptest.Server

	mu        sync.Mutex
	languages []string
	submitted []string
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// newChromeFixture launches a headless browser against a local test server.
// The test is skipped when no browser can be started.
func newChromeFixture(t *testing.T, opts LaunchOptions) *chromeFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	execPath := findChrome()
	if execPath == "" {
		t.Skip("no Chrome binary on PATH")
	}

	f := &chromeFixture{}
	mux := http.NewServeMux()
	mux.HandleFunc("/controls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.languages = append(f.languages, r.Header.Get("Accept-Language"))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, controlsPage)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/welcome", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.submitted = append(f.submitted, r.PostForm.Get("user"))
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "MALSESSIONID", Value: "abc", Path: "/", HttpOnly: true})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>welcome</title></head><body><p id="greeting">hi</p></body></html>`)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), fixtureTimeout)
	t.Cleanup(cancel)
	f.ctx = ctx

	opts.Headless = true
	opts.ExecPath = execPath
	if opts.WindowSize == [2]int{} {
		opts.WindowSize = [2]int{1280, 800}
	}
	b, err := NewChromeDriver(zaptest.NewLogger(t), fixtureLaunchLimit).Launch(ctx, opts)
	if err != nil {
		t.Skipf("browser did not start: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	page, err := b.NewPage(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = page.Close() })
	f.page = page
	return f
}

func (f *chromeFixture) url(path string) string {
	return f.server.URL + path
}

func (f *chromeFixture) open(t *testing.T, path string) {
	t.Helper()
	resp, err := f.page.Navigate(f.ctx, f.url(path))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, f.url(path), resp.URL)
}

// -- Test Cases --

func TestChromePage_Controls(t *testing.T) {
	f := newChromeFixture(t, LaunchOptions{})
	f.open(t, "/controls")
	query := ControlQuery{Selector: ".inputButton.main_submit", Visible: true}

	t.Run("FindVisibleControlSkipsHiddenMatches", func(t *testing.T) {
		h, found, err := f.page.FindVisibleControl(f.ctx, query)
		require.NoError(t, err)
		require.True(t, found)

		tagged, set, err := f.page.Attribute(f.ctx, "#visible", handleAttribute)
		require.NoError(t, err)
		assert.True(t, set)
		assert.Equal(t, string(h), tagged)

		_, set, err = f.page.Attribute(f.ctx, "#hidden", handleAttribute)
		require.NoError(t, err)
		assert.False(t, set, "the hidden control comes first but is never chosen")
	})

	t.Run("ClickControlFiresTheHandler", func(t *testing.T) {
		h, found, err := f.page.FindVisibleControl(f.ctx, query)
		require.NoError(t, err)
		require.True(t, found)

		clicked, err := f.page.ClickControl(f.ctx, h)
		require.NoError(t, err)
		assert.True(t, clicked)

		title, err := f.page.Text(f.ctx, "title")
		require.NoError(t, err)
		assert.Equal(t, "clicked", title)

		_, set, err := f.page.Attribute(f.ctx, "#visible", handleAttribute)
		require.NoError(t, err)
		assert.False(t, set, "handle is released after the click")
	})

	t.Run("ClickControlRefusesHiddenControl", func(t *testing.T) {
		h, found, err := f.page.FindVisibleControl(f.ctx, ControlQuery{Selector: "#hidden"})
		require.NoError(t, err)
		require.True(t, found)

		clicked, err := f.page.ClickControl(f.ctx, h)
		require.NoError(t, err)
		assert.False(t, clicked)

		title, err := f.page.Text(f.ctx, "title")
		require.NoError(t, err)
		assert.NotEqual(t, "hidden", title)
	})

	t.Run("NoVisibleMatch", func(t *testing.T) {
		_, found, err := f.page.FindVisibleControl(f.ctx, ControlQuery{Selector: "#close", Visible: true})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ClickOnHiddenNodeTimesOut", func(t *testing.T) {
		present, err := f.page.Exists(f.ctx, "#close")
		require.NoError(t, err)
		require.True(t, present)

		start := time.Now()
		err = f.page.Click(f.ctx, "#close")
		assert.ErrorIs(t, err, ErrElementTimeout)
		assert.Less(t, time.Since(start), interactTimeout+5*time.Second)
	})

	t.Run("WaitPresentTimesOut", func(t *testing.T) {
		err := f.page.WaitPresent(f.ctx, "#missing", 200*time.Millisecond)
		assert.ErrorIs(t, err, ErrElementTimeout)
	})
}

func TestChromePage_SubmitAndCookies(t *testing.T) {
	f := newChromeFixture(t, LaunchOptions{})
	f.open(t, "/login")

	require.NoError(t, f.page.WaitPresent(f.ctx, "#user", 5*time.Second))
	require.NoError(t, f.page.Type(f.ctx, "#user", "alice"))
	require.NoError(t, f.page.SubmitAndWait(f.ctx, "#go", 10*time.Second))

	greeting, err := f.page.Text(f.ctx, "#greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", greeting)

	f.mu.Lock()
	assert.Equal(t, []string{"alice"}, f.submitted)
	f.mu.Unlock()

	cookies, err := f.page.Cookies(f.ctx)
	require.NoError(t, err)
	session := findCookie(cookies, "MALSESSIONID")
	require.NotNil(t, session)
	assert.Equal(t, "abc", session.Value)
	assert.True(t, session.HTTPOnly)

	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	require.NoError(t, f.page.SetCookies(f.ctx, []Cookie{{Name: "restored", Value: "1", Domain: u.Hostname(), Path: "/"}}))
	cookies, err = f.page.Cookies(f.ctx)
	require.NoError(t, err)
	restored := findCookie(cookies, "restored")
	require.NotNil(t, restored)
	assert.Equal(t, "1", restored.Value)
}

func TestChromePage_PersonaLanguages(t *testing.T) {
	f := newChromeFixture(t, LaunchOptions{Locale: "ja-JP"})
	f.open(t, "/controls")

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.languages)
	assert.True(t, strings.HasPrefix(f.languages[len(f.languages)-1], "ja-JP"), "got %q", f.languages)
}

func TestChromePage_ClosedPage(t *testing.T) {
	f := newChromeFixture(t, LaunchOptions{})
	require.NoError(t, f.page.Close())

	_, err := f.page.Exists(f.ctx, "body")
	assert.ErrorIs(t, err, ErrClosed)
}

func findCookie(cookies []Cookie, name string) *Cookie {
	for i := range cookies {
		if cookies[i].Name == name {
			return &cookies[i]
		}
	}
	return nil
}
