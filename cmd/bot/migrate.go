package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newMigrateCmd(newApp appFactory) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migration scripts and exit",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := cliApp(newApp)
			if err != nil {
				return err
			}
			defer closeInto(cmd.Context(), a, &err)

			out := cmd.OutOrStdout()
			if dryRun {
				statuses, err := a.Status(cmd.Context())
				if err != nil {
					return err
				}
				yellow := color.New(color.FgYellow)
				pending := 0
				for _, st := range statuses {
					for _, id := range st.Pending {
						yellow.Fprintf(out, "would apply %s to %s\n", id, st.Target)
						pending++
					}
				}
				fmt.Fprintf(out, "%d pending script(s)\n", pending)
				return nil
			}

			report, err := a.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen)
			for _, t := range report.Targets {
				for _, id := range t.Applied {
					green.Fprintf(out, "applied %s to %s\n", id, filepath.Base(t.Path))
				}
			}
			fmt.Fprintf(out, "%d script(s) applied, run %s\n", report.AppliedCount(), report.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list scripts that would be applied")
	return cmd
}
