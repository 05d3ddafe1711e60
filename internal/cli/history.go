package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/results"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit    int
		failures bool
		runID    string
		prune    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [scenario]",
		Short: "Show recorded runs",
		Long: `Show runs recorded in RESULTS_DB, newest first.

Examples:
  textile-e2e history                    # Latest runs of every scenario
  textile-e2e history fabric --limit 50  # One scenario
  textile-e2e history --failures         # Failures grouped by scenario, code and step
  textile-e2e history --run <run-id>     # One run in detail
  textile-e2e history --prune 720h       # Delete runs older than 30 days`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errs.New(errs.Unavailable, "run history is not enabled; set RESULTS_DB or --results-db")
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case prune > 0:
				n, err := store.Prune(ctx, a.now().Add(-prune))
				if err != nil {
					return errs.Wrap(errs.Unavailable, "prune history", err)
				}
				fmt.Fprintf(out, "Deleted %d runs older than %s\n", n, prune)
				return nil
			case runID != "":
				run, err := store.Get(ctx, runID)
				if err != nil {
					return err
				}
				printRun(out, run)
				return nil
			case failures:
				groups, err := store.Failures(ctx, limit)
				if err != nil {
					return errs.Wrap(errs.Unavailable, "read failures", err)
				}
				return printFailureGroups(out, groups)
			}

			var runs []results.Run
			if len(args) == 1 {
				runs, err = store.History(ctx, args[0], limit)
			} else {
				runs, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return errs.Wrap(errs.Unavailable, "read history", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			return printRuns(out, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", results.DefaultLimit, "Maximum rows")
	cmd.Flags().BoolVar(&failures, "failures", false, "Group failed runs by fingerprint")
	cmd.Flags().StringVar(&runID, "run", "", "Show one run by id")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete runs older than this age")
	return cmd
}

func printRuns(out io.Writer, runs []results.Run) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSCENARIO\tBROWSER\tSTATE\tCODE\tSTEP\tSTARTED\tDURATION")
	for _, r := range runs {
		step := "-"
		if r.FailedStep > 0 {
			step = fmt.Sprint(r.FailedStep)
		}
		code := r.ErrorCode
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Scenario, r.Browser, r.State, code, step,
			r.StartedAt.Local().Format(time.RFC3339), r.Duration)
	}
	return w.Flush()
}

func printFailureGroups(out io.Writer, groups []results.FailureGroup) error {
	if len(groups) == 0 {
		fmt.Fprintln(out, "No failures recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tSCENARIO\tCODE\tSTEP\tBROWSERS\tLAST SEEN\tFINGERPRINT")
	for _, g := range groups {
		fp := g.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			g.Count, g.Scenario, g.ErrorCode, g.FailedStep, strings.Join(g.Browsers, ","),
			g.LastSeen.Local().Format(time.RFC3339), fp)
	}
	return w.Flush()
}

func printRun(out io.Writer, r results.Run) {
	fmt.Fprintf(out, "Run:       %s\n", r.RunID)
	fmt.Fprintf(out, "Scenario:  %s (%s)\n", r.Scenario, r.Browser)
	fmt.Fprintf(out, "State:     %s after %d steps in %s\n", r.State, r.StepsRun, r.Duration)
	fmt.Fprintf(out, "Started:   %s\n", r.StartedAt.Local().Format(time.RFC3339))
	if !r.Passed() {
		fmt.Fprintf(out, "Failed:    step %d, %s\n", r.FailedStep, r.ErrorCode)
		fmt.Fprintf(out, "Error:     %s\n", r.ErrorMessage)
	}
	for _, url := range r.Artifacts {
		fmt.Fprintf(out, "Artifact:  %s\n", url)
	}
	if len(r.Observations) > 0 {
		fmt.Fprintln(out, "Observations:")
		keys := make([]string, 0, len(r.Observations))
		for k := range r.Observations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s = %q\n", k, r.Observations[k])
		}
	}
}
