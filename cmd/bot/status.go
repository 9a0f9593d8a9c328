package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"wosbot/internal/platform/sqlite"
)

func newStatusCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations per database",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := cliApp(newApp)
			if err != nil {
				return err
			}
			defer closeInto(cmd.Context(), a, &err)

			statuses, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}

func printStatus(w io.Writer, statuses []sqlite.TargetStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, "no databases found")
		return
	}
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for _, st := range statuses {
		cyan.Fprintf(w, "%s\n", st.Target)
		for _, rec := range st.Applied {
			green.Fprintf(w, "  [x] %s", rec.ID)
			if !rec.AppliedAt.IsZero() {
				fmt.Fprintf(w, "  %s", rec.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintln(w)
		}
		for _, id := range st.Pending {
			yellow.Fprintf(w, "  [ ] %s\n", id)
		}
	}
}
