package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/driver/mockdriver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/obs"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

const testBaseURL = "http://localhost:1420"

func newTestRunner(d driver.Driver, opts ...Option) *Runner {
	base := []Option{
		WithBaseURL(testBaseURL),
		WithWaitBudget(20 * time.Millisecond),
		WithActionTimeout(time.Second),
	}
	return New(d, append(base, opts...)...)
}

func headingScenario(expected string) scenario.Scenario {
	return scenario.Scenario{
		Name: "fabric-heading",
		Steps: []scenario.Step{
			scenario.Navigate("/fabric"),
			scenario.ReadTitle("title"),
			scenario.Locate("heading", driver.ByID, "title"),
			scenario.ReadText("heading", "heading"),
		},
		Assertions: []scenario.Assertion{
			{Name: "page title", Observation: "title", Expected: scenario.AppTitle},
			{Name: "heading", Observation: "heading", Expected: expected},
		},
	}
}

func TestRun_CatalogPassesAgainstTextile(t *testing.T) {
	t.Parallel()

	for _, sc := range scenario.Catalog() {
		d := mockdriver.Textile(testBaseURL)
		out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)
		require.True(t, out.Passed(), "%s: %v", sc.Name, out.Err)
		require.Equal(t, len(sc.Steps), out.StepsRun)
		require.Zero(t, out.FailedStep)
		require.Equal(t, 1, d.Opened())
		require.Equal(t, 1, d.Closed())
		require.Equal(t, []State{NotStarted, SessionOpen}, out.Transitions[:2])
		require.Equal(t, []State{SessionClosed, Passed}, out.Transitions[len(out.Transitions)-2:])
	}
}

func TestRun_TitleAssertionPasses(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	out := newTestRunner(d).Run(context.Background(), headingScenario("Tecido"), driver.Chrome)

	require.NoError(t, out.Err)
	require.Equal(t, Passed, out.State)
	require.Equal(t, "Textile V2.1", out.Observations["title"])
	require.Equal(t, "Tecido", out.Observations["heading"])
	require.Empty(t, out.ErrorCode())
	require.NotEmpty(t, out.RunID)
}

func TestRun_TextMismatchFailsWithAssertionError(t *testing.T) {
	t.Parallel()

	d := mockdriver.New().AddPage(testBaseURL+"/fabric", mockdriver.Page{
		Title: mockdriver.TextileTitle,
		Elements: map[mockdriver.Key]mockdriver.Element{
			{Strategy: driver.ByID, Selector: "title"}: {Text: "Tecidos"},
		},
	})
	out := newTestRunner(d).Run(context.Background(), headingScenario("Tecido"), driver.Chrome)

	require.Equal(t, Failed, out.State)
	var ae *errs.AssertionError
	require.ErrorAs(t, out.Err, &ae)
	require.Equal(t, "Tecido", ae.Expected)
	require.Equal(t, "Tecidos", ae.Observed)
	require.Equal(t, errs.Assertion, out.ErrorCode())
	require.Equal(t, 4, out.FailedStep)
	require.Contains(t, out.ErrorMessage(), "step 4 (read text of heading into heading)")
	require.Equal(t, 1, d.Closed())
}

func TestRun_StepsInOrderAndNothingAfterFailure(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	sc := scenario.Scenario{
		Name: "stops",
		Steps: []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("link", driver.ByLinkText, "Tecidos"),
			scenario.Click("link"),
			scenario.Locate("missing", driver.ByID, "does-not-exist"),
			scenario.Click("missing"),
			scenario.ReadTitle("title"),
		},
	}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Firefox)

	require.False(t, out.Passed())
	require.Equal(t, 4, out.FailedStep)
	require.Equal(t, 4, out.StepsRun)

	sessions := d.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, []string{
		"navigate " + testBaseURL + "/",
		"locate link_text=Tecidos",
		"click link_text=Tecidos",
		"locate id=does-not-exist",
		"close",
	}, sessions[0].Calls())
}

func TestRun_MissingElementFailsAndSessionStillCloses(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	sc := scenario.Scenario{
		Name: "missing",
		Steps: []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("ghost", driver.ByCSS, ".ghost"),
		},
	}
	wait := 30 * time.Millisecond
	start := time.Now()
	out := newTestRunner(d, WithWaitBudget(wait)).Run(context.Background(), sc, driver.Chrome)

	require.GreaterOrEqual(t, time.Since(start), wait)
	var nf *errs.ElementNotFoundError
	require.ErrorAs(t, out.Err, &nf)
	require.Equal(t, "css", nf.Strategy)
	require.Equal(t, ".ghost", nf.Selector)
	require.Equal(t, wait, nf.Wait)
	require.ErrorIs(t, out.Err, driver.ErrNotFound)
	require.Equal(t, 1, d.Opened())
	require.Equal(t, 1, d.Closed())
	require.True(t, d.Sessions()[0].IsClosed())
	require.Contains(t, out.Transitions, SessionClosed)
	require.Equal(t, Failed, out.State)
}

func TestRun_OpenFailureIsSessionError(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	d.OpenErr = errors.New("connect ECONNREFUSED 127.0.0.1:4444")
	out := newTestRunner(d).Run(context.Background(), headingScenario("Tecido"), driver.WebKit)

	var se *errs.SessionError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, "open", se.Op)
	require.Equal(t, "webkit", se.Browser)
	require.Equal(t, []State{NotStarted, SessionClosed, Failed}, out.Transitions)
	require.Zero(t, out.StepsRun)
	require.Zero(t, d.Closed())
}

func TestRun_InvalidScenarioNeverOpensSession(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	sc := scenario.Scenario{Name: "broken", Steps: []scenario.Step{scenario.Click("unbound")}}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)

	require.Equal(t, errs.InvalidArgument, out.ErrorCode())
	require.Zero(t, d.Opened())
	require.Equal(t, Failed, out.State)
}

func TestRun_CloseFailureFailsPassingRun(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	d.CloseErr = errors.New("browser has been closed")
	out := newTestRunner(d).Run(context.Background(), headingScenario("Tecido"), driver.Chrome)

	var se *errs.SessionError
	require.ErrorAs(t, out.Err, &se)
	require.Equal(t, "close", se.Op)
	require.Equal(t, Failed, out.State)
	require.Zero(t, out.FailedStep)
	require.Equal(t, 1, d.Closed())
}

func TestRun_CloseFailureKeepsStepError(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	d.CloseErr = errors.New("browser has been closed")
	out := newTestRunner(d).Run(context.Background(), headingScenario("Tecidos"), driver.Chrome)

	require.Equal(t, errs.Assertion, out.ErrorCode())
}

func TestRun_RejectedInteractionIsActionError(t *testing.T) {
	t.Parallel()

	d := mockdriver.New().AddPage(testBaseURL, mockdriver.Page{
		Title: mockdriver.TextileTitle,
		Elements: map[mockdriver.Key]mockdriver.Element{
			{Strategy: driver.ByCSS, Selector: ".is-success"}: {
				Reject: map[string]error{"click": errors.New("element is not clickable at point (10, 10)")},
			},
		},
	})
	sc := scenario.Scenario{
		Name: "save",
		Steps: []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("save", driver.ByCSS, ".is-success"),
			scenario.Click("save"),
		},
	}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)

	var ae *errs.ActionError
	require.ErrorAs(t, out.Err, &ae)
	require.Equal(t, "click", ae.Action)
	require.Equal(t, "save", ae.Target)
	require.Equal(t, 3, out.FailedStep)
	require.Equal(t, 1, d.Closed())
}

func TestRun_NavigateToUnknownPageIsActionError(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	sc := scenario.Scenario{Name: "nowhere", Steps: []scenario.Step{scenario.Navigate("/nowhere")}}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)

	var ae *errs.ActionError
	require.ErrorAs(t, out.Err, &ae)
	require.Equal(t, "navigate", ae.Action)
	require.Equal(t, testBaseURL+"/nowhere", ae.Target)
}

func TestRun_ScenarioBaseURLWins(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile("http://staging:1420")
	sc := headingScenario("Tecido")
	sc.BaseURL = "http://staging:1420/"
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)

	require.NoError(t, out.Err)
	require.Equal(t, "navigate http://staging:1420/fabric", d.Sessions()[0].Calls()[0])
}

func TestRun_PassesViewportToSession(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	var sc scenario.Scenario
	for _, c := range scenario.Catalog() {
		if c.Name == "fabric-create" {
			sc = c
		}
	}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)

	require.NoError(t, out.Err)
	require.Equal(t, &driver.Viewport{Width: 1920, Height: 1048}, d.Sessions()[0].Viewport())
	require.Equal(t, "Novo", out.Observations["new_link"])
}

func TestRun_CancelledContextStillReleases(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	ctx, cancel := context.WithCancel(context.Background())
	sc := scenario.Scenario{
		Name: "slow",
		Steps: []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("ghost", driver.ByID, "ghost"),
		},
	}
	time.AfterFunc(10*time.Millisecond, cancel)
	out := newTestRunner(d, WithWaitBudget(5*time.Second)).Run(ctx, sc, driver.Chrome)

	require.Equal(t, Failed, out.State)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, 1, d.Closed())
}

type memorySink struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (m *memorySink) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[key] = data
	return "https://artifacts.example/" + key, nil
}

func TestRun_FailureUploadsScreenshotBeforeClose(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	sink := &memorySink{}
	out := newTestRunner(d, WithArtifacts(sink)).Run(context.Background(), headingScenario("Tecidos"), driver.Firefox)

	require.Equal(t, Failed, out.State)
	key := "runs/" + out.RunID + "/fabric-heading-firefox.png"
	require.Contains(t, sink.puts, key)
	require.True(t, strings.HasPrefix(string(sink.puts[key]), "\x89PNG"))
	require.Equal(t, []string{"https://artifacts.example/" + key}, out.Artifacts)

	calls := d.Sessions()[0].Calls()
	require.Equal(t, []string{"screenshot", "close"}, calls[len(calls)-2:])
}

func TestRun_PassingRunUploadsNothing(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	out := newTestRunner(mockdriver.Textile(testBaseURL), WithArtifacts(sink)).Run(context.Background(), headingScenario("Tecido"), driver.Chrome)

	require.True(t, out.Passed())
	require.Empty(t, sink.puts)
	require.Empty(t, out.Artifacts)
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (m *memoryRecorder) Record(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return m.err
}

func TestRun_RecordsTerminalOutcome(t *testing.T) {
	t.Parallel()

	rec := &memoryRecorder{err: errors.New("disk full")}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := 0
	clock := func() time.Time {
		ticks++
		return start.Add(time.Duration(ticks-1) * 250 * time.Millisecond)
	}
	out := newTestRunner(mockdriver.Textile(testBaseURL), WithRecorder(rec), WithClock(clock)).
		Run(context.Background(), headingScenario("Tecido"), driver.Chrome)

	require.True(t, out.Passed(), "recorder failures do not fail the run")
	require.Len(t, rec.outcomes, 1)
	require.Equal(t, Passed, rec.outcomes[0].State)
	require.Equal(t, start, out.StartedAt)
	require.Equal(t, 250*time.Millisecond, out.Duration)
}

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func TestRun_LimiterGatesSessionOpen(t *testing.T) {
	t.Parallel()

	lim := &countingLimiter{}
	d := mockdriver.Textile(testBaseURL)
	out := newTestRunner(d, WithLimiter(lim)).Run(context.Background(), headingScenario("Tecido"), driver.Firefox)
	require.NoError(t, out.Err)
	require.Equal(t, []string{"mock/firefox"}, lim.keys)

	lim.err = context.DeadlineExceeded
	out = newTestRunner(d, WithLimiter(lim)).Run(context.Background(), headingScenario("Tecido"), driver.Firefox)
	require.Equal(t, errs.Session, out.ErrorCode())
	require.Equal(t, 1, d.Opened())
}

func TestRunMatrix_IndependentOutcomesPerBrowser(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	d.Kinds = []driver.BrowserKind{driver.Chrome}
	scenarios := []scenario.Scenario{headingScenario("Tecido"), headingScenario("Tecidos")}
	scenarios[1].Name = "fabric-wrong"
	kinds := []driver.BrowserKind{driver.Chrome, driver.Firefox}

	outcomes := newTestRunner(d).RunMatrix(context.Background(), scenarios, kinds, 3)

	require.Len(t, outcomes, 4)
	want := []struct {
		scenario string
		browser  driver.BrowserKind
		code     errs.Code
	}{
		{"fabric-heading", driver.Chrome, ""},
		{"fabric-heading", driver.Firefox, errs.Session},
		{"fabric-wrong", driver.Chrome, errs.Assertion},
		{"fabric-wrong", driver.Firefox, errs.Session},
	}
	runIDs := make(map[string]bool)
	for i, w := range want {
		require.Equal(t, w.scenario, outcomes[i].Scenario, "outcome %d", i)
		require.Equal(t, w.browser, outcomes[i].Browser, "outcome %d", i)
		require.Equal(t, w.code, outcomes[i].ErrorCode(), "outcome %d", i)
		runIDs[outcomes[i].RunID] = true
	}
	require.Len(t, runIDs, 4)
	require.Equal(t, 2, d.Opened())
	require.Equal(t, 2, d.Closed())

	sessions := d.Sessions()
	require.NotSame(t, sessions[0], sessions[1])

	s := Summarize(outcomes)
	require.Equal(t, Summary{Total: 4, Passed: 1, Failed: 3, Code: errs.Session}, s)
	require.False(t, s.OK())
}

func TestRunMatrix_SameScenarioTwoBrowsers(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	outcomes := newTestRunner(d).RunMatrix(context.Background(),
		[]scenario.Scenario{headingScenario("Tecido")},
		[]driver.BrowserKind{driver.Chrome, driver.Firefox}, 2)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.True(t, o.Passed(), "%s: %v", o.Browser, o.Err)
		require.Equal(t, "Tecido", o.Observations["heading"])
	}
	outcomes[0].Observations["heading"] = "mutated"
	require.Equal(t, "Tecido", outcomes[1].Observations["heading"])

	kinds := map[driver.BrowserKind]bool{}
	for _, s := range d.Sessions() {
		kinds[s.Kind()] = true
		require.True(t, s.IsClosed())
	}
	require.Equal(t, map[driver.BrowserKind]bool{driver.Chrome: true, driver.Firefox: true}, kinds)
}

func TestMetrics_StepFailuresCounted(t *testing.T) {
	before := testutil.ToFloat64(metricStepFailures.WithLabelValues(string(errs.Assertion)))

	newTestRunner(mockdriver.Textile(testBaseURL)).Run(context.Background(), headingScenario("Tecidos"), driver.Chrome)

	after := testutil.ToFloat64(metricStepFailures.WithLabelValues(string(errs.Assertion)))
	require.GreaterOrEqual(t, after-before, 1.0)
}

func slowPageDriver(load time.Duration) *mockdriver.Driver {
	return mockdriver.New().AddPage(testBaseURL+"/fabric", mockdriver.Page{
		Title:    scenario.AppTitle,
		LoadTime: load,
	})
}

func slowPageScenario() scenario.Scenario {
	return scenario.Scenario{
		Name:       "slow-fabric",
		Steps:      []scenario.Step{scenario.Navigate("/fabric"), scenario.ReadTitle("title")},
		Assertions: []scenario.Assertion{{Observation: "title", Expected: scenario.AppTitle}},
	}
}

func TestRun_NoActionTimeoutByDefault(t *testing.T) {
	t.Parallel()

	r := New(slowPageDriver(100*time.Millisecond), WithBaseURL(testBaseURL), WithWaitBudget(10*time.Millisecond))
	out := r.Run(context.Background(), slowPageScenario(), driver.Chrome)
	require.NoError(t, out.Err)
	require.Equal(t, Passed, out.State)
}

func TestRun_ActionTimeoutBoundsNavigation(t *testing.T) {
	t.Parallel()

	r := newTestRunner(slowPageDriver(time.Second), WithActionTimeout(20*time.Millisecond))
	out := r.Run(context.Background(), slowPageScenario(), driver.Chrome)

	var ae *errs.ActionError
	require.ErrorAs(t, out.Err, &ae)
	require.Equal(t, "navigate", ae.Action)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
	require.Equal(t, 1, out.FailedStep)
}

type blockingLimiter struct{}

func (blockingLimiter) Wait(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_CancelledBeforeOpenIsUnavailable(t *testing.T) {
	t.Parallel()

	d := mockdriver.Textile(testBaseURL)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	out := newTestRunner(d, WithLimiter(blockingLimiter{})).Run(ctx, headingScenario("Tecido"), driver.Chrome)

	require.Equal(t, errs.Unavailable, out.ErrorCode())
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Zero(t, d.Opened())

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	out = newTestRunner(d).Run(cancelled, headingScenario("Tecido"), driver.Chrome)
	require.Equal(t, errs.Unavailable, out.ErrorCode())
	require.Zero(t, d.Opened())
}

func decodeLogLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		lines = append(lines, entry)
	}
	return lines
}

// Not parallel: swaps the process-wide logger.
func TestRun_StepLogsRedactSecretsAndFailuresWarn(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	obs.SetLevel("debug")
	t.Cleanup(func() {
		obs.SetLevel("info")
		restore()
	})

	d := mockdriver.New().AddPage(testBaseURL+"/login", mockdriver.Page{
		Title: scenario.AppTitle,
		Elements: map[mockdriver.Key]mockdriver.Element{
			{Strategy: driver.ByCSS, Selector: "#usuario"}: {},
			{Strategy: driver.ByCSS, Selector: "#senha"}:   {},
		},
	})
	sc := scenario.Scenario{
		Name: "login",
		Steps: []scenario.Step{
			scenario.Navigate("/login"),
			scenario.Locate("usuario", driver.ByCSS, "#usuario"),
			scenario.SendKeys("usuario", "maria"),
			scenario.Locate("senha", driver.ByCSS, "#senha"),
			scenario.SendKeys("senha", "hunter2"),
			scenario.Locate("entrar", driver.ByCSS, "#entrar"),
		},
	}
	out := newTestRunner(d).Run(context.Background(), sc, driver.Chrome)
	require.Equal(t, errs.ElementNotFound, out.ErrorCode())

	raw := buf.String()
	require.NotContains(t, raw, "hunter2")

	texts := map[float64]any{}
	var failed map[string]any
	for _, entry := range decodeLogLines(t, raw) {
		if entry["run_id"] != out.RunID {
			continue
		}
		switch entry["msg"] {
		case "step_start":
			if text, ok := entry["text"]; ok {
				texts[entry["step"].(float64)] = text
			}
		case "scenario_failed":
			failed = entry
		}
	}
	require.Equal(t, map[float64]any{3: "maria", 5: "[REDACTED]"}, texts)
	require.NotNil(t, failed, "no scenario_failed line in %s", raw)
	require.Equal(t, "WARN", failed["level"])
	require.Equal(t, string(errs.ElementNotFound), failed["error_code"])
	require.Equal(t, float64(6), failed["failed_step"])
	require.Equal(t, "login", failed["scenario"])
	require.Equal(t, "chrome", failed["browser"])
}
