// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrElementTimeout is returned when a wait for an element runs out of time.
	ErrElementTimeout = errors.New("timed out waiting for element")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrClosed is returned for operations on a closed page or browser.
	ErrClosed = errors.New("browser closed")
)

// NavigationError is returned once every navigation attempt for a URL has failed.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
