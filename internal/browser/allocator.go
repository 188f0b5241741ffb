// internal/browser/allocator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// launchFlag is one command-line switch passed to Chrome.
type launchFlag struct {
	name  string
	value interface{}
}

// launchFlags computes the Chrome switches for opts. Later entries win when
// chromedp applies them, so user supplied args come last.
func launchFlags(opts LaunchOptions) []launchFlag {
	flags := []launchFlag{
		{"headless", opts.Headless},
		{"disable-gpu", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"no-sandbox", true},
		{"disable-dev-shm-usage", true},
	}
	if opts.WindowSize[0] > 0 && opts.WindowSize[1] > 0 {
		flags = append(flags, launchFlag{"window-size", fmt.Sprintf("%d,%d", opts.WindowSize[0], opts.WindowSize[1])})
	}
	if opts.ProxyServer != "" {
		flags = append(flags, launchFlag{"proxy-server", opts.ProxyServer})
	}
	for _, arg := range opts.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, launchFlag{key, value})
		} else {
			flags = append(flags, launchFlag{key, true})
		}
	}
	return flags
}

// allocatorOptions turns opts into chromedp allocator options.
func allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	var out []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		out = append(out, opt)
	}
	for _, f := range launchFlags(opts) {
		out = append(out, chromedp.Flag(f.name, f.value))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}
