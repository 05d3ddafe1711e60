// Package driver defines the remote-control surface the scenario runner
// consumes. Backends live in subpackages: pwdriver (Playwright), cdpdriver
// (Chrome DevTools) and mockdriver (scripted, in-memory).
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Session.Locate when nothing matched within the wait budget.
	ErrNotFound = errors.New("element not found")
	// ErrUnsupportedBrowser is returned when a backend cannot drive the requested kind.
	ErrUnsupportedBrowser = errors.New("unsupported browser kind")
)

// BrowserKind names a browser engine.
type BrowserKind string

const (
	Chrome  BrowserKind = "chrome"
	Firefox BrowserKind = "firefox"
	WebKit  BrowserKind = "webkit"
)

// ParseBrowserKind maps a user-supplied name to a BrowserKind.
func ParseBrowserKind(s string) (BrowserKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chrome", "chromium":
		return Chrome, nil
	case "firefox":
		return Firefox, nil
	case "webkit", "safari":
		return WebKit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBrowser, s)
}

// ParseBrowserKinds parses a comma separated list, dropping duplicates.
func ParseBrowserKinds(csv string) ([]BrowserKind, error) {
	var kinds []BrowserKind
	seen := make(map[BrowserKind]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := ParseBrowserKind(part)
		if err != nil {
			return nil, err
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Strategy is an element location strategy.
type Strategy string

const (
	ByID       Strategy = "id"
	ByCSS      Strategy = "css"
	ByLinkText Strategy = "link_text"
	ByXPath    Strategy = "xpath"
)

// ParseStrategy maps a strategy name, accepting a few common spellings.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "id":
		return ByID, nil
	case "css", "selector":
		return ByCSS, nil
	case "link_text", "linktext", "link-text":
		return ByLinkText, nil
	case "xpath":
		return ByXPath, nil
	}
	return "", fmt.Errorf("unknown locate strategy %q", s)
}

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// SessionOptions configures one browser session.
type SessionOptions struct {
	Viewport *Viewport
	// ActionTimeout bounds a single navigation or interaction. Zero leaves the backend default.
	ActionTimeout time.Duration
}

// Driver opens browser sessions. Implementations must be safe for concurrent OpenSession calls.
type Driver interface {
	Name() string
	OpenSession(ctx context.Context, kind BrowserKind, opts SessionOptions) (Session, error)
	Close() error
}

// Session is one live browser instance owned by a single scenario execution.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// Locate waits up to wait for the first element matching selector.
	// It returns an error wrapping ErrNotFound when the budget is exhausted.
	Locate(ctx context.Context, strategy Strategy, selector string, wait time.Duration) (Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Element is a handle to a located DOM element.
//
// Press, MoveTo and Release compose pointer drag sequences: Press moves the
// pointer to the element centre and holds the primary button, MoveTo moves
// it, Release moves and lets go.
type Element interface {
	Click(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Press(ctx context.Context) error
	MoveTo(ctx context.Context) error
	Release(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
}

// LinkTextXPath returns an XPath matching anchors whose whitespace-normalized
// text equals text exactly.
func LinkTextXPath(text string) string {
	return "//a[normalize-space(.)=" + xpathLiteral(strings.Join(strings.Fields(text), " ")) + "]"
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + part + "'")
	}
	b.WriteString(")")
	return b.String()
}

// IDSelector returns a CSS attribute selector matching id exactly, which
// stays valid for ids that are not CSS identifiers.
func IDSelector(id string) string {
	return `[id="` + strings.ReplaceAll(strings.ReplaceAll(id, `\`, `\\`), `"`, `\"`) + `"]`
}
