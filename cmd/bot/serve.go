package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate every database, then run maintenance, the ops HTTP server and the bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, newApp)
		},
	}
}

func runServe(cmd *cobra.Command, newApp appFactory) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}
