package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/obs"
	"github.com/kuitang/textile-e2e/internal/report"
	"github.com/kuitang/textile-e2e/internal/runner"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

func newRunCommand(a *app) *cobra.Command {
	var reportPath string

	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios across the browser matrix",
		Long: `Run the named scenarios (all when none are named) once per configured browser.

Each failed run is recorded with its error code and failed step. With
ARTIFACTS_BUCKET set, failures upload a screenshot. With REPORT_TO set, the
report is mailed when the matrix finishes.

Exit status: 0 all passed, 1 a scenario failed, 2 invalid input,
3 a browser session could not be opened, 4 a service is unavailable.

Examples:
  textile-e2e run                              # Everything
  textile-e2e run home fabric                  # Two scenarios
  textile-e2e run --browsers chrome --headed   # Watch it
  textile-e2e run --report report.html         # Keep an HTML report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := newEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			selected, err := scenario.Select(e.scenarios, args)
			if err != nil {
				return err
			}
			cfg.PrintStartupSummary(cmd.ErrOrStderr())

			outcomes := e.runner.RunMatrix(ctx, selected, cfg.Browsers, cfg.Parallelism)
			summary := runner.Summarize(outcomes)
			printOutcomes(cmd.OutOrStdout(), outcomes, summary)

			md := report.Markdown(outcomes, a.now())
			subject := report.Subject(outcomes)
			if reportPath != "" {
				if err := writeReport(reportPath, md, subject); err != nil {
					return err
				}
			}
			if n := newNotifier(cfg); n != nil {
				html, err := report.HTML(md, subject)
				if err != nil {
					return errs.Wrap(errs.Internal, "render report", err)
				}
				if err := n.Send(ctx, subject, string(html)); err != nil {
					obs.Pkg("cli").Warn("report_send_failed", "error", err)
				}
			}

			if !summary.OK() {
				return errs.New(summary.Code, subject)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the report to this file (.html renders HTML, anything else Markdown)")
	return cmd
}

func printOutcomes(w io.Writer, outcomes []runner.Outcome, summary runner.Summary) {
	r := lipgloss.NewRenderer(w)
	pass := r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}).Bold(true)
	fail := r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).Bold(true)
	dim := r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})

	for _, o := range outcomes {
		label := fmt.Sprintf("%s/%s", o.Scenario, o.Browser)
		dur := dim.Render(o.Duration.Round(time.Millisecond).String())
		if o.Passed() {
			fmt.Fprintf(w, "%s %s %s\n", pass.Render("PASS"), label, dur)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", fail.Render("FAIL"), label, dur)
		fmt.Fprintf(w, "     %s: %s\n", o.ErrorCode(), o.ErrorMessage())
		for _, url := range o.Artifacts {
			fmt.Fprintf(w, "     screenshot: %s\n", url)
		}
	}

	line := fmt.Sprintf("%d passed, %d failed of %d runs", summary.Passed, summary.Failed, summary.Total)
	if summary.OK() {
		fmt.Fprintln(w, pass.Render(line))
		return
	}
	fmt.Fprintln(w, fail.Render(line))
}

func writeReport(path, md, title string) error {
	data := []byte(md)
	if strings.EqualFold(filepath.Ext(path), ".html") {
		html, err := report.HTML(md, title)
		if err != nil {
			return errs.Wrap(errs.Internal, "render report", err)
		}
		data = html
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.InvalidArgument, "write report", err)
	}
	return nil
}
