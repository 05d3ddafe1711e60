// Package cli implements the textile-e2e command tree.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/config"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/obs"
)

var (
	versionStr   = "dev"
	commitStr    = "unknown"
	buildTimeStr = "unknown"
)

// SetVersionInfo records build metadata shown by --version and the MCP server.
func SetVersionInfo(version, commit, buildTime string) {
	versionStr = version
	commitStr = commit
	buildTimeStr = buildTime
}

// app holds the flag values shared by every subcommand.
type app struct {
	overrides config.Overrides
	now       func() time.Time
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:   "textile-e2e",
		Short: "textile-e2e - browser scenarios for the Textile web UI",
		Long: `textile-e2e drives real browsers through the Textile web UI and checks
page titles and element text.

Quick start:
  textile-e2e list                          # Built-in and loaded scenarios
  textile-e2e run                           # Every scenario on chrome and firefox
  textile-e2e run fabric --browsers webkit  # One scenario, one browser
  textile-e2e run --driver mock             # Dry run against a scripted Textile
  textile-e2e validate scenarios/*.yaml     # Check scenario files
  textile-e2e history --failures            # Recurring failures
  textile-e2e serve                         # MCP server at /mcp

Configuration comes from the environment (TEXTILE_BASE_URL, BROWSERS, DRIVER,
RESULTS_DB, ARTIFACTS_BUCKET, REPORT_TO, ...). Flags override it.`,
		Version:       versionStr,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Wrap(errs.InvalidArgument, "invalid flags", err)
	})
	root.SetVersionTemplate("textile-e2e version {{.Version}} (" + commitStr + ", built " + buildTimeStr + ")\n")

	f := root.PersistentFlags()
	f.StringVar(&a.overrides.BaseURL, "base-url", "", "Textile base URL (TEXTILE_BASE_URL)")
	f.StringVar(&a.overrides.Browsers, "browsers", "", "Comma-separated browser kinds: chrome, firefox, webkit (BROWSERS)")
	f.StringVar(&a.overrides.Driver, "driver", "", "Automation backend: playwright, cdp or mock (DRIVER)")
	f.StringVar(&a.overrides.Endpoint, "endpoint", "", "Remote browser websocket endpoint (BROWSER_ENDPOINT)")
	f.BoolVar(&a.overrides.Headed, "headed", false, "Show local browser windows")
	f.DurationVar(&a.overrides.Wait, "wait", 0, "Wait budget per locate (WAIT_BUDGET)")
	f.IntVar(&a.overrides.Parallel, "parallel", 0, "Scenarios executed concurrently (PARALLELISM)")
	f.StringVar(&a.overrides.ScenarioDir, "scenarios", "", "Directory of *.yaml scenarios (SCENARIO_DIR)")
	f.StringVar(&a.overrides.ResultsDB, "results-db", "", "Run history database file (RESULTS_DB)")
	f.BoolVar(&a.overrides.NoS3, "no-s3", false, "Do not upload failure screenshots")
	f.BoolVar(&a.overrides.NoEmail, "no-email", false, "Write reports to the mock outbox instead of Resend")
	f.BoolVarP(&a.overrides.Verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newRunCommand(a),
		newListCommand(a),
		newValidateCommand(a),
		newHistoryCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the command tree with args. The returned error carries an
// errs.Code suitable for errs.ExitCode.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// loadConfig reads configuration and applies the log level.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.overrides)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid configuration", err)
	}
	obs.Init(cfg.LogLevel)
	obs.SetLevel(cfg.LogLevel)
	return cfg, nil
}
