// Package pwdriver implements driver.Driver on top of playwright-go.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/obs"
)

// Config configures the Playwright backend.
type Config struct {
	// Endpoint is a Playwright server websocket URL. Empty launches local
	// browsers. A "{browser}" placeholder is replaced with the browser kind.
	Endpoint string
	Headless bool
}

// Driver launches or connects to one browser per session.
type Driver struct {
	cfg Config

	mu     sync.Mutex
	pw     *playwright.Playwright
	closed bool
}

// New starts the Playwright driver process.
func New(cfg Config) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	return &Driver{cfg: cfg, pw: pw}, nil
}

func (d *Driver) Name() string { return "playwright" }

func (d *Driver) browserType(kind driver.BrowserKind) (playwright.BrowserType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("playwright driver closed")
	}
	switch kind {
	case driver.Chrome:
		return d.pw.Chromium, nil
	case driver.Firefox:
		return d.pw.Firefox, nil
	case driver.WebKit:
		return d.pw.WebKit, nil
	}
	return nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedBrowser, kind)
}

func (d *Driver) OpenSession(ctx context.Context, kind driver.BrowserKind, opts driver.SessionOptions) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bt, err := d.browserType(kind)
	if err != nil {
		return nil, err
	}

	logger := obs.From(ctx).With("pkg", "pwdriver")
	var browser playwright.Browser
	if d.cfg.Endpoint != "" {
		endpoint := strings.ReplaceAll(d.cfg.Endpoint, "{browser}", string(kind))
		logger.Debug("browser_connect", "endpoint", endpoint)
		browser, err = bt.Connect(endpoint)
	} else {
		logger.Debug("browser_launch", "headless", d.cfg.Headless)
		browser, err = bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(d.cfg.Headless),
		})
	}
	if err != nil {
		return nil, err
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.Viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	if opts.ActionTimeout > 0 {
		bctx.SetDefaultTimeout(millis(opts.ActionTimeout))
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, err
	}

	return &session{browser: browser, bctx: bctx, page: page}, nil
}

// Close stops the Playwright driver process. Open sessions must be closed first.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.pw.Stop()
}

type session struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (s *session) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *session) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

func (s *session) Locate(ctx context.Context, strategy driver.Strategy, selector string, wait time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := Selector(strategy, selector)
	if err != nil {
		return nil, err
	}
	loc := s.page.Locator(sel).First()
	err = loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(millis(wait)),
	})
	if err != nil {
		return nil, locateError(strategy, selector, err)
	}
	return &element{page: s.page, loc: loc}, nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
}

// Close tears down page, context and browser, returning the first failure.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if err := s.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bctx.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type element struct {
	page playwright.Page
	loc  playwright.Locator
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Click()
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.PressSequentially(text)
}

func (e *element) Press(ctx context.Context) error {
	if err := e.MoveTo(ctx); err != nil {
		return err
	}
	return e.page.Mouse().Down()
}

// MoveTo hovers the element centre, which is where Playwright places the pointer.
func (e *element) MoveTo(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Hover(playwright.LocatorHoverOptions{Force: playwright.Bool(true)})
}

func (e *element) Release(ctx context.Context) error {
	if err := e.MoveTo(ctx); err != nil {
		return err
	}
	return e.page.Mouse().Up()
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.loc.InnerText()
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != "value" {
		return e.loc.GetAttribute(name)
	}
	// InputValue throws for anything but input, textarea and select.
	v, err := e.loc.Evaluate(valueJS, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// valueJS reads the value property where the element has one and falls back
// to the value attribute.
const valueJS = `el => typeof el.value === "string" ? el.value : (el.getAttribute("value") ?? "")`

// Selector maps a location strategy to a Playwright selector.
func Selector(strategy driver.Strategy, selector string) (string, error) {
	switch strategy {
	case driver.ByID:
		return "css=" + driver.IDSelector(selector), nil
	case driver.ByCSS:
		return "css=" + selector, nil
	case driver.ByLinkText:
		return "xpath=" + driver.LinkTextXPath(selector), nil
	case driver.ByXPath:
		return "xpath=" + selector, nil
	}
	return "", fmt.Errorf("unknown locate strategy %q", strategy)
}

func locateError(strategy driver.Strategy, selector string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %s=%s", driver.ErrNotFound, strategy, selector)
	}
	return err
}

// millis converts d to Playwright milliseconds. Playwright reads 0 as "no
// timeout", so sub-millisecond budgets round up to 1ms.
func millis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}
