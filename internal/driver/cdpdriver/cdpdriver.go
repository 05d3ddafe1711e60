// Package cdpdriver implements driver.Driver for Chrome over the DevTools
// protocol using chromedp.
package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/obs"
)

// Config configures the CDP backend.
type Config struct {
	// Endpoint is a DevTools websocket URL (ws://host:9222/devtools/browser/...).
	// Empty launches a local Chrome.
	Endpoint string
	Headless bool
}

// Driver opens one Chrome tab (local) or remote target per session.
type Driver struct {
	cfg Config
	// allocator returns the chromedp allocator context a session's tab hangs off.
	allocator func(opts driver.SessionOptions) (context.Context, context.CancelFunc)
}

// New returns a CDP driver. Chrome is not started until OpenSession.
func New(cfg Config) *Driver {
	d := &Driver{cfg: cfg}
	d.allocator = d.newAllocator
	return d
}

func (d *Driver) Name() string { return "cdp" }

func (d *Driver) newAllocator(opts driver.SessionOptions) (context.Context, context.CancelFunc) {
	if d.cfg.Endpoint != "" {
		return chromedp.NewRemoteAllocator(context.Background(), d.cfg.Endpoint)
	}
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", d.cfg.Headless))
	if opts.Viewport != nil {
		execOpts = append(execOpts, chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height))
	}
	return chromedp.NewExecAllocator(context.Background(), execOpts...)
}

func (d *Driver) OpenSession(ctx context.Context, kind driver.BrowserKind, opts driver.SessionOptions) (driver.Session, error) {
	if kind != driver.Chrome {
		return nil, fmt.Errorf("%w: cdp drives chrome only, got %s", driver.ErrUnsupportedBrowser, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := obs.From(ctx).With("pkg", "cdpdriver")
	if d.cfg.Endpoint != "" {
		logger.Debug("browser_connect", "endpoint", d.cfg.Endpoint)
	} else {
		logger.Debug("browser_launch", "headless", d.cfg.Headless)
	}
	allocCtx, allocCancel := d.allocator(opts)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		tab:           tab,
		tabCancel:     tabCancel,
		allocCancel:   allocCancel,
		actionTimeout: opts.ActionTimeout,
	}
	var start []chromedp.Action
	if opts.Viewport != nil {
		start = append(start, chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height)))
	}

	// The first Run allocates the browser on the context it is given, and the
	// browser lives exactly as long as that context. It must be the tab itself.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tab, start...)
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}
	return s, nil
}

func (d *Driver) Close() error { return nil }

type session struct {
	tab           context.Context
	tabCancel     context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration
}

// run executes actions on the tab, bounded by both the caller's context and timeout.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.actionTimeout, chromedp.Navigate(url))
}

func (s *session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, s.actionTimeout, chromedp.Title(&title))
	return title, err
}

func (s *session) URL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, s.actionTimeout, chromedp.Location(&url))
	return url, err
}

func (s *session) Locate(ctx context.Context, strategy driver.Strategy, selector string, wait time.Duration) (driver.Element, error) {
	sel, by, err := Query(strategy, selector)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	err = s.run(ctx, wait, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(1)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s=%s", driver.ErrNotFound, strategy, selector)
		}
		return nil, err
	}
	return &element{session: s, node: nodes[0]}, nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, s.actionTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Close closes the tab and then the allocator, which kills a locally launched Chrome.
func (s *session) Close(ctx context.Context) error {
	err := chromedp.Cancel(s.tab)
	s.tabCancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type element struct {
	session *session
	node    *cdp.Node
}

func (e *element) ids() []cdp.NodeID { return []cdp.NodeID{e.node.NodeID} }

func (e *element) Click(ctx context.Context) error {
	return e.session.run(ctx, e.session.actionTimeout, chromedp.MouseClickNode(e.node))
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.session.run(ctx, e.session.actionTimeout, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *element) Press(ctx context.Context) error {
	return e.mouse(ctx, input.MousePressed)
}

func (e *element) MoveTo(ctx context.Context) error {
	return e.mouse(ctx, input.MouseMoved)
}

func (e *element) Release(ctx context.Context) error {
	return e.mouse(ctx, input.MouseReleased)
}

// mouse moves the pointer to the element centre and, for press and release,
// dispatches the primary button event there.
func (e *element) mouse(ctx context.Context, typ input.MouseType) error {
	return e.session.run(ctx, e.session.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		x, y, err := Centre(box.Content)
		if err != nil {
			return err
		}
		move := input.DispatchMouseEvent(input.MouseMoved, x, y)
		if typ != input.MouseMoved {
			move = move.WithButton(input.Left).WithButtons(1)
		}
		if err := move.Do(ctx); err != nil {
			return err
		}
		if typ == input.MouseMoved {
			return nil
		}
		return input.DispatchMouseEvent(typ, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx)
	}))
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.session.run(ctx, e.session.actionTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID))
	return text, err
}

// valueJS reads the value property where the element has one and falls back
// to the value attribute, so links and other non-form elements do not fail.
const valueJS = `function() {
	if (typeof this.value === "string") return this.value;
	const attr = this.getAttribute("value");
	return attr === null ? "" : attr;
}`

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var value string
	if name != "value" {
		var ok bool
		err := e.session.run(ctx, e.session.actionTimeout, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID))
		return value, err
	}
	err := e.session.run(ctx, e.session.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		res, exc, err := runtime.CallFunctionOn(valueJS).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return json.Unmarshal(res.Value, &value)
	}))
	return value, err
}

// Query maps a location strategy to a chromedp selector and query option.
func Query(strategy driver.Strategy, selector string) (string, chromedp.QueryOption, error) {
	switch strategy {
	case driver.ByID:
		return driver.IDSelector(selector), chromedp.ByQuery, nil
	case driver.ByCSS:
		return selector, chromedp.ByQuery, nil
	case driver.ByLinkText:
		return driver.LinkTextXPath(selector), chromedp.BySearch, nil
	case driver.ByXPath:
		return selector, chromedp.BySearch, nil
	}
	return "", nil, fmt.Errorf("unknown locate strategy %q", strategy)
}

// Centre returns the centre of a CDP quad (x1,y1 .. x4,y4).
func Centre(quad dom.Quad) (float64, float64, error) {
	if len(quad) != 8 {
		return 0, 0, fmt.Errorf("invalid quad with %d coordinates", len(quad))
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += quad[i]
		y += quad[i+1]
	}
	return x / 4, y / 4, nil
}
