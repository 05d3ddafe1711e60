package errs

import (
	"errors"
	"fmt"
	"time"
)

// Code is a scenario error code.
type Code string

const (
	InvalidArgument Code = "invalid_argument"
	Session         Code = "session"
	ElementNotFound Code = "element_not_found"
	Action          Code = "action"
	Assertion       Code = "assertion"
	Unavailable     Code = "unavailable"
	Internal        Code = "internal"
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// SessionError reports that a browser session could not be opened or released.
type SessionError struct {
	Op      string // "open" or "close"
	Browser string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s (%s) failed", e.Op, e.Browser)
	}
	return fmt.Sprintf("session %s (%s): %v", e.Op, e.Browser, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ElementNotFoundError reports a locate that exhausted its wait budget.
type ElementNotFoundError struct {
	Strategy string
	Selector string
	Wait     time.Duration
	Err      error
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %s=%q not found within %s", e.Strategy, e.Selector, e.Wait)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// ActionError reports a remote call that rejected the requested interaction.
type ActionError struct {
	Action string
	Target string
	Err    error
}

func (e *ActionError) Error() string {
	target := e.Target
	if target == "" {
		target = "page"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s on %s rejected", e.Action, target)
	}
	return fmt.Sprintf("%s on %s: %v", e.Action, target, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// AssertionError carries the expected and observed values of a failed assertion.
type AssertionError struct {
	Name     string
	Expected string
	Observed string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %q failed: expected %q, observed %q", e.Name, e.Expected, e.Observed)
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var (
		assertion *AssertionError
		notFound  *ElementNotFoundError
		action    *ActionError
		session   *SessionError
		coded     *Error
	)
	switch {
	case errors.As(err, &assertion):
		return Assertion
	case errors.As(err, &notFound):
		return ElementNotFound
	case errors.As(err, &session):
		return Session
	case errors.As(err, &action):
		return Action
	case errors.As(err, &coded):
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns a short user-facing error message.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}

// ExitCode maps an error code to a process exit status.
func ExitCode(code Code) int {
	switch code {
	case InvalidArgument:
		return 2
	case Session:
		return 3
	case Unavailable:
		return 4
	default:
		return 1
	}
}
