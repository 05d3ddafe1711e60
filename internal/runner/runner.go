// Package runner executes scenarios against browser sessions. Each run owns
// exactly one session, executes steps strictly in order, stops at the first
// failure and always releases the session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/logutil"
	"github.com/kuitang/textile-e2e/internal/obs"
	"github.com/kuitang/textile-e2e/internal/scenario"
	"github.com/kuitang/textile-e2e/internal/urlutil"
)

const (
	DefaultWaitBudget = 500 * time.Millisecond
	// releaseTimeout bounds screenshot and close when no action timeout is set.
	releaseTimeout = 30 * time.Second

	logValueMaxChars = 120
)

// Recorder persists outcomes.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// ArtifactSink stores failure artifacts and returns a URL for each.
type ArtifactSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Limiter throttles session launches per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Runner executes scenarios. It holds no per-run state and is safe for concurrent use.
type Runner struct {
	driver        driver.Driver
	wait          time.Duration
	actionTimeout time.Duration
	baseURL       string
	limiter       Limiter
	artifacts     ArtifactSink
	recorder      Recorder
	now           func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithWaitBudget sets how long a locate step may wait for its element.
func WithWaitBudget(d time.Duration) Option {
	return func(r *Runner) { r.wait = d }
}

// WithActionTimeout bounds each navigation, interaction and read. Zero, the
// default, leaves them bounded only by the caller's context.
func WithActionTimeout(d time.Duration) Option {
	return func(r *Runner) { r.actionTimeout = d }
}

// WithBaseURL sets the base for relative navigations of scenarios without their own.
func WithBaseURL(u string) Option {
	return func(r *Runner) { r.baseURL = u }
}

func WithLimiter(l Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

func WithArtifacts(a ArtifactSink) Option {
	return func(r *Runner) { r.artifacts = a }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner on top of d.
func New(d driver.Driver, opts ...Option) *Runner {
	r := &Runner{
		driver: d,
		wait:   DefaultWaitBudget,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes sc against one browser of the given kind.
func (r *Runner) Run(ctx context.Context, sc scenario.Scenario, kind driver.BrowserKind) (out Outcome) {
	out = Outcome{
		RunID:        uuid.NewString(),
		Scenario:     sc.Name,
		Browser:      kind,
		Observations: make(map[string]string),
		StartedAt:    r.now(),
	}
	out.enter(NotStarted)
	ctx = obs.WithRun(ctx, out.RunID, sc.Name, string(kind))
	defer r.finish(ctx, &out)

	if err := sc.Validate(); err != nil {
		out.Err = err
		out.enter(SessionClosed)
		return out
	}

	sess, err := r.open(ctx, sc, kind)
	if err != nil {
		out.Err = err
		out.enter(SessionClosed)
		return out
	}
	out.enter(SessionOpen)

	func() {
		defer r.release(ctx, sc, sess, &out)
		defer func() {
			if p := recover(); p != nil {
				out.Err = errs.New(errs.Internal, fmt.Sprintf("panic during step %d: %v", out.StepsRun, p))
				if out.FailedStep == 0 {
					out.FailedStep = out.StepsRun
				}
			}
		}()
		out.Err = r.execute(ctx, sc, sess, &out)
	}()
	return out
}

func (r *Runner) open(ctx context.Context, sc scenario.Scenario, kind driver.BrowserKind) (driver.Session, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, r.driver.Name()+"/"+string(kind)); err != nil {
			return nil, openError(ctx, kind, err)
		}
	}
	sess, err := r.driver.OpenSession(ctx, kind, driver.SessionOptions{
		Viewport:      sc.Viewport,
		ActionTimeout: r.actionTimeout,
	})
	if err != nil {
		return nil, openError(ctx, kind, err)
	}
	metricSessionsOpen.Inc()
	obs.From(ctx).Debug("session_open", "pkg", "runner", "driver", r.driver.Name())
	return sess, nil
}

// openError tells a cancelled run apart from a browser that failed to start.
func openError(ctx context.Context, kind driver.BrowserKind, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.Unavailable, "run cancelled before the session opened", ctx.Err())
	}
	return &errs.SessionError{Op: "open", Browser: string(kind), Err: err}
}

// execute runs the steps in order and returns the first failure.
func (r *Runner) execute(ctx context.Context, sc scenario.Scenario, sess driver.Session, out *Outcome) error {
	elements := make(map[string]driver.Element)
	for i, st := range sc.Steps {
		n := i + 1
		out.enter(StepRunning)
		out.StepsRun = n
		stepCtx := obs.WithStep(ctx, n)

		logger := obs.From(stepCtx).With("pkg", "runner")
		if st.Kind == scenario.KindInteract && st.Action == scenario.ActionSendKeys {
			logger.Debug("step_start", "desc", st.Describe(), "text", logutil.StepTextForLog(st.Target, st.Text, logValueMaxChars))
		} else {
			logger.Debug("step_start", "desc", st.Describe())
		}

		err := ctx.Err()
		if err == nil {
			err = r.step(stepCtx, sc, sess, st, elements, out)
		}
		if err != nil {
			out.FailedStep = n
			recordStepFailure(errs.CodeOf(err))
			return fmt.Errorf("step %d (%s): %w", n, st.Describe(), err)
		}
	}
	return nil
}

func (r *Runner) step(ctx context.Context, sc scenario.Scenario, sess driver.Session, st scenario.Step, elements map[string]driver.Element, out *Outcome) error {
	switch st.Kind {
	case scenario.KindNavigate:
		url := urlutil.Resolve(st.URL, sc.BaseURL, r.baseURL)
		actx, cancel := r.bounded(ctx)
		defer cancel()
		if err := sess.Navigate(actx, url); err != nil {
			return &errs.ActionError{Action: "navigate", Target: url, Err: err}
		}
		return nil

	case scenario.KindLocate:
		el, err := sess.Locate(ctx, st.Strategy, st.Selector, r.wait)
		if err != nil {
			if errors.Is(err, driver.ErrNotFound) {
				return &errs.ElementNotFoundError{Strategy: string(st.Strategy), Selector: st.Selector, Wait: r.wait, Err: err}
			}
			return &errs.ActionError{Action: "locate", Target: st.As, Err: err}
		}
		elements[st.As] = el
		return nil

	case scenario.KindInteract:
		el, ok := elements[st.Target]
		if !ok {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("target %q is not bound", st.Target))
		}
		actx, cancel := r.bounded(ctx)
		defer cancel()
		var err error
		switch st.Action {
		case scenario.ActionClick:
			err = el.Click(actx)
		case scenario.ActionSendKeys:
			err = el.SendKeys(actx, st.Text)
		case scenario.ActionPress:
			err = el.Press(actx)
		case scenario.ActionMoveTo:
			err = el.MoveTo(actx)
		case scenario.ActionRelease:
			err = el.Release(actx)
		default:
			return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown action %q", st.Action))
		}
		if err != nil {
			return &errs.ActionError{Action: string(st.Action), Target: st.Target, Err: err}
		}
		return nil

	case scenario.KindRead:
		value, err := r.read(ctx, sess, st, elements)
		if err != nil {
			return err
		}
		out.Observations[st.Into] = value
		obs.From(ctx).Debug("observed", "pkg", "runner", "key", st.Into, "value", logutil.TruncateForLog(value, logValueMaxChars))
		for _, a := range sc.AssertionsOn(st.Into) {
			if value != a.Expected {
				return &errs.AssertionError{Name: a.Label(), Expected: a.Expected, Observed: value}
			}
		}
		return nil
	}
	return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown step kind %q", st.Kind))
}

func (r *Runner) read(ctx context.Context, sess driver.Session, st scenario.Step, elements map[string]driver.Element) (string, error) {
	actx, cancel := r.bounded(ctx)
	defer cancel()

	var (
		value string
		err   error
	)
	switch st.Property {
	case scenario.Title:
		value, err = sess.Title(actx)
	case scenario.URL:
		value, err = sess.URL(actx)
	case scenario.Text, scenario.Attribute:
		el, ok := elements[st.Target]
		if !ok {
			return "", errs.New(errs.InvalidArgument, fmt.Sprintf("target %q is not bound", st.Target))
		}
		if st.Property == scenario.Text {
			value, err = el.Text(actx)
		} else {
			value, err = el.Attribute(actx, st.Name)
		}
	default:
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("unknown property %q", st.Property))
	}
	if err != nil {
		return "", &errs.ActionError{Action: "read " + string(st.Property), Target: st.Target, Err: err}
	}
	return value, nil
}

// bounded applies the action timeout. Locate steps are bounded by the wait budget instead.
func (r *Runner) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.actionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.actionTimeout)
}

// release captures a failure screenshot when configured, then closes the
// session on a context detached from the caller's cancellation.
func (r *Runner) release(ctx context.Context, sc scenario.Scenario, sess driver.Session, out *Outcome) {
	timeout := r.actionTimeout
	if timeout <= 0 {
		timeout = releaseTimeout
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	logger := obs.From(ctx).With("pkg", "runner")

	if out.Err != nil && r.artifacts != nil {
		r.captureFailure(cleanupCtx, sc, sess, out)
	}

	closeErr := sess.Close(cleanupCtx)
	metricSessionsOpen.Dec()
	out.enter(SessionClosed)
	if closeErr != nil {
		logger.Warn("session_close_failed", "error", closeErr)
		if out.Err == nil {
			out.Err = &errs.SessionError{Op: "close", Browser: string(out.Browser), Err: closeErr}
		}
		return
	}
	logger.Debug("session_closed")
}

func (r *Runner) captureFailure(ctx context.Context, sc scenario.Scenario, sess driver.Session, out *Outcome) {
	logger := obs.From(ctx).With("pkg", "runner")
	shot, err := sess.Screenshot(ctx)
	if err != nil {
		logger.Warn("screenshot_failed", "error", err)
		return
	}
	key := fmt.Sprintf("runs/%s/%s-%s.png", out.RunID, sc.Name, out.Browser)
	url, err := r.artifacts.Put(ctx, key, shot, "image/png")
	if err != nil {
		logger.Warn("artifact_upload_failed", "key", key, "error", err)
		return
	}
	out.Artifacts = append(out.Artifacts, url)
	logger.Info("artifact_uploaded", "key", key, "url", url)
}

func (r *Runner) finish(ctx context.Context, out *Outcome) {
	if out.Err == nil {
		out.enter(Passed)
	} else {
		out.enter(Failed)
	}
	out.Duration = r.now().Sub(out.StartedAt)
	recordOutcome(*out)

	logger := obs.From(ctx).With("pkg", "runner")
	durMS := float64(out.Duration.Microseconds()) / 1000.0
	if out.Passed() {
		logger.Info("scenario_passed", "steps", out.StepsRun, "dur_ms", durMS)
	} else {
		logger.Warn("scenario_failed",
			"error_code", string(out.ErrorCode()),
			"error", out.Err,
			"failed_step", out.FailedStep,
			"dur_ms", durMS,
		)
	}

	if r.recorder != nil {
		if err := r.recorder.Record(context.WithoutCancel(ctx), *out); err != nil {
			logger.Error("record_outcome_failed", "error", err)
		}
	}
}

// RunMatrix runs every scenario against every browser kind with at most
// parallelism executions in flight. Outcomes are ordered scenario-major:
// all kinds of scenarios[0] first, in the order of kinds.
func (r *Runner) RunMatrix(ctx context.Context, scenarios []scenario.Scenario, kinds []driver.BrowserKind, parallelism int) []Outcome {
	outcomes := make([]Outcome, len(scenarios)*len(kinds))
	if parallelism <= 0 {
		parallelism = 1
	}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, sc := range scenarios {
		for j, kind := range kinds {
			idx := i*len(kinds) + j
			g.Go(func() error {
				outcomes[idx] = r.Run(ctx, sc, kind)
				return nil
			})
		}
	}
	_ = g.Wait()
	return outcomes
}
