package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check scenario files without running them",
		Long: `Parse and validate scenario YAML files. With no files, validate the
scenarios the run command would use.

Examples:
  textile-e2e validate e2e/login.yaml e2e/fabric.yaml
  textile-e2e validate --scenarios ./e2e`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				all, err := loadScenarios(cfg)
				if err != nil {
					return err
				}
				for _, sc := range all {
					if err := sc.Validate(); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "%d scenarios valid (%s)\n", len(all), scenarioSource(cfg))
				return nil
			}

			invalid := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					invalid++
					fmt.Fprintf(out, "FAIL %v\n", err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s, %d steps)\n", path, sc.Name, len(sc.Steps))
			}
			if invalid > 0 {
				return errs.New(errs.InvalidArgument, fmt.Sprintf("%d of %d scenario files invalid", invalid, len(args)))
			}
			return nil
		},
	}
}
