// Package browser runs the scenario catalog through real browsers against a
// local stub of the Textile UI. All tests share one Playwright driver via
// SetupBrowserTestEnv(t).
package browser

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/driver/pwdriver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/runner"
)

const (
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second
	browserWaitBudget = 2 * time.Second
)

var (
	browserFixtureMu     sync.Mutex
	browserSharedFixture *BrowserTestEnv
)

// BrowserTestEnv is the shared environment for browser tests.
type BrowserTestEnv struct {
	App     *httptest.Server
	BaseURL string
	Driver  *pwdriver.Driver
}

// SetupBrowserTestEnv returns the shared environment, skipping in -short mode
// and when Playwright cannot start.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}

	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()
	if browserSharedFixture != nil {
		return browserSharedFixture
	}

	d, err := pwdriver.New(pwdriver.Config{Headless: true})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	app := httptest.NewServer(NewTextileApp())
	browserSharedFixture = &BrowserTestEnv{App: app, BaseURL: app.URL, Driver: d}
	return browserSharedFixture
}

// NewRunner returns a runner against the stub app with browser-test timeouts.
func (env *BrowserTestEnv) NewRunner(opts ...runner.Option) *runner.Runner {
	base := []runner.Option{
		runner.WithBaseURL(env.BaseURL),
		runner.WithWaitBudget(browserWaitBudget),
		runner.WithActionTimeout(browserMaxTimeout),
	}
	return runner.New(env.Driver, append(base, opts...)...)
}

// SkipIfBrowserMissing skips the test when an outcome failed because the
// browser binary is not installed.
func SkipIfBrowserMissing(t *testing.T, outcomes []runner.Outcome) {
	t.Helper()
	for _, o := range outcomes {
		if errs.CodeOf(o.Err) == errs.Session && browserMissing(o.Err) {
			t.Skipf("%s not installed: %v", o.Browser, o.Err)
		}
	}
}

func browserMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "executable doesn't exist") ||
		strings.Contains(msg, "please run the following command") ||
		strings.Contains(msg, "install")
}

// kinds is the default browser matrix for this suite.
var kinds = []driver.BrowserKind{driver.Chrome, driver.Firefox}

func cleanupSharedBrowserTestEnv() {
	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()
	if browserSharedFixture == nil {
		return
	}
	browserSharedFixture.App.Close()
	_ = browserSharedFixture.Driver.Close()
	browserSharedFixture = nil
}
