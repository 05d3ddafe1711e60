package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/config"
)

func newListCommand(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scenarios",
		Long: `List the built-in catalog, or the scenarios loaded from SCENARIO_DIR.

Examples:
  textile-e2e list                     # Everything
  textile-e2e list --tag smoke         # Smoke scenarios only
  textile-e2e list --scenarios ./e2e   # Scenarios from a directory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			all, err := loadScenarios(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tASSERTIONS\tTAGS\tDESCRIPTION")
			shown := 0
			for _, sc := range all {
				if tag != "" && !containsFold(sc.Tags, tag) {
					continue
				}
				shown++
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
					sc.Name, len(sc.Steps), len(sc.Assertions), strings.Join(sc.Tags, ","), sc.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No scenarios found")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only list scenarios with this tag")
	return cmd
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// scenarioSource describes where scenarios come from, for messages.
func scenarioSource(cfg *config.Config) string {
	if cfg.ScenarioDir == "" {
		return "built-in catalog"
	}
	return cfg.ScenarioDir
}
