// Package mockdriver is an in-memory driver.Driver serving scripted pages.
// Sessions record every remote call so tests can assert on ordering and
// session lifecycle.
package mockdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/textile-e2e/internal/driver"
)

// ErrNoPage is returned when navigating to a URL that has no scripted page.
var ErrNoPage = errors.New("no page scripted for url")

// Key identifies an element on a page.
type Key struct {
	Strategy driver.Strategy
	Selector string
}

// Element scripts one element.
type Element struct {
	Text       string
	Attributes map[string]string
	// Href, when set, is navigated to on Click.
	Href string
	// Reject maps an action name (click, send_keys, press, move_to, release,
	// text, attribute) to the error the remote end returns for it.
	Reject map[string]error
}

// Page scripts one URL.
type Page struct {
	Title    string
	Elements map[Key]Element
	// LoadTime delays a navigation to this page, honouring the caller's context.
	LoadTime time.Duration
}

// Driver is a scripted driver.Driver.
type Driver struct {
	// OpenErr, when set, makes every OpenSession fail.
	OpenErr error
	// CloseErr, when set, makes every Session.Close fail after counting the close.
	CloseErr error
	// Kinds restricts the browser kinds accepted; empty accepts all.
	Kinds []driver.BrowserKind

	mu       sync.Mutex
	pages    map[string]Page
	sessions []*Session
	opened   int
	closed   int
}

// New returns an empty scripted driver.
func New() *Driver {
	return &Driver{pages: make(map[string]Page)}
}

// AddPage scripts url. URLs are matched without a trailing slash.
func (d *Driver) AddPage(url string, page Page) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[normalize(url)] = page
	return d
}

func (d *Driver) Name() string { return "mock" }

func (d *Driver) OpenSession(ctx context.Context, kind driver.BrowserKind, opts driver.SessionOptions) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.Kinds) > 0 && !containsKind(d.Kinds, kind) {
		return nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedBrowser, kind)
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	s := &Session{
		driver:   d,
		kind:     kind,
		viewport: opts.Viewport,
		values:   make(map[Key]string),
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *Driver) Close() error { return nil }

// Opened returns the number of sessions opened so far.
func (d *Driver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Closed returns the number of Session.Close calls so far.
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Sessions returns every session opened so far, in open order.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

func (d *Driver) page(url string) (Page, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[normalize(url)]
	return p, ok
}

// Session is a scripted driver.Session.
type Session struct {
	driver   *Driver
	kind     driver.BrowserKind
	viewport *driver.Viewport

	mu     sync.Mutex
	url    string
	page   Page
	values map[Key]string
	calls  []string
	closed bool
}

// Kind returns the browser kind the session was opened for.
func (s *Session) Kind() driver.BrowserKind { return s.kind }

// Viewport returns the viewport requested at open time.
func (s *Session) Viewport() *driver.Viewport { return s.viewport }

// Calls returns the remote calls made on this session, e.g. "navigate http://x/", "locate id=title".
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) record(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.record("navigate %s", url); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	page, ok := s.driver.page(url)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, url)
	}
	if page.LoadTime > 0 {
		timer := time.NewTimer(page.LoadTime)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.url = url
	s.page = page
	s.values = make(map[Key]string)
	s.mu.Unlock()
	return nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	if err := s.record("title"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page.Title, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	if err := s.record("url"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

// Locate returns immediately when the element is scripted on the current
// page and otherwise blocks for the whole wait budget before failing.
func (s *Session) Locate(ctx context.Context, strategy driver.Strategy, selector string, wait time.Duration) (driver.Element, error) {
	if err := s.record("locate %s=%s", strategy, selector); err != nil {
		return nil, err
	}
	key := Key{Strategy: strategy, Selector: selector}
	s.mu.Lock()
	spec, ok := s.page.Elements[key]
	s.mu.Unlock()
	if ok {
		return &element{session: s, key: key, spec: spec}, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s=%s", driver.ErrNotFound, strategy, selector)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Screenshot returns a fixed PNG signature followed by the current URL.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.record("screenshot"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte("\x89PNG\r\n\x1a\n"), s.url...), nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session already closed")
	}
	s.closed = true
	s.calls = append(s.calls, "close")
	s.mu.Unlock()

	s.driver.mu.Lock()
	s.driver.closed++
	s.driver.mu.Unlock()
	return s.driver.CloseErr
}

type element struct {
	session *Session
	key     Key
	spec    Element
}

func (e *element) act(action string) error {
	if err := e.session.record("%s %s=%s", action, e.key.Strategy, e.key.Selector); err != nil {
		return err
	}
	if err := e.spec.Reject[action]; err != nil {
		return err
	}
	return nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.act("click"); err != nil {
		return err
	}
	if e.spec.Href == "" {
		return nil
	}
	page, ok := e.session.driver.page(e.spec.Href)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, e.spec.Href)
	}
	e.session.mu.Lock()
	e.session.url = e.spec.Href
	e.session.page = page
	e.session.values = make(map[Key]string)
	e.session.mu.Unlock()
	return nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if err := e.act("send_keys"); err != nil {
		return err
	}
	e.session.mu.Lock()
	e.session.values[e.key] += text
	e.session.mu.Unlock()
	return nil
}

func (e *element) Press(ctx context.Context) error   { return e.act("press") }
func (e *element) MoveTo(ctx context.Context) error  { return e.act("move_to") }
func (e *element) Release(ctx context.Context) error { return e.act("release") }

func (e *element) Text(ctx context.Context) (string, error) {
	if err := e.act("text"); err != nil {
		return "", err
	}
	return e.spec.Text, nil
}

// Attribute returns typed text for "value" when keys were sent to the element.
func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	if err := e.act("attribute"); err != nil {
		return "", err
	}
	if name == "value" {
		e.session.mu.Lock()
		v, typed := e.session.values[e.key]
		e.session.mu.Unlock()
		if typed {
			return v, nil
		}
	}
	return e.spec.Attributes[name], nil
}

func normalize(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

func containsKind(kinds []driver.BrowserKind, kind driver.BrowserKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
