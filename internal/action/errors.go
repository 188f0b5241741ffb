package action

import (
	"errors"
	"fmt"
	"time"
)

var (
	errNotVisible      = errors.New("no visible control")
	errNotInteractable = errors.New("control not interactable")
)

// DialogTimeoutError reports that the add dialog never rendered.
type DialogTimeoutError struct {
	EntryID int
	Timeout time.Duration
	Err     error
}

func (e *DialogTimeoutError) Error() string {
	return fmt.Sprintf("dialog for entry %d did not load within %s", e.EntryID, e.Timeout)
}

func (e *DialogTimeoutError) Unwrap() error { return e.Err }

// ButtonNotFoundError reports that no visible submit control appeared.
type ButtonNotFoundError struct {
	EntryID  int
	Attempts int
	Err      error
}

func (e *ButtonNotFoundError) Error() string {
	return fmt.Sprintf("submit control for entry %d not found after %d attempt(s)", e.EntryID, e.Attempts)
}

func (e *ButtonNotFoundError) Unwrap() error { return e.Err }

// ClickFailedError reports that the submit control could not be clicked.
type ClickFailedError struct {
	EntryID  int
	Attempts int
	Err      error
}

func (e *ClickFailedError) Error() string {
	return fmt.Sprintf("submit control for entry %d not clicked after %d attempt(s): %v", e.EntryID, e.Attempts, e.Err)
}

func (e *ClickFailedError) Unwrap() error { return e.Err }

// UnexpectedRedirectError reports that the add URL landed somewhere unrecognized.
type UnexpectedRedirectError struct {
	EntryID int
	URL     string
}

func (e *UnexpectedRedirectError) Error() string {
	return fmt.Sprintf("entry %d: redirected to %s", e.EntryID, e.URL)
}
