package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"wosbot/internal/app"
)

// appFactory builds the application; console receives log output.
type appFactory func(console io.Writer) (*app.App, error)

func defaultAppFactory(console io.Writer) (*app.App, error) { return app.New(console) }

func newRootCmd(newApp appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "bot",
		Short:         "SQLite connection manager, migration runner and ops bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Without a subcommand the bot serves.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, newApp)
		},
	}
	root.AddCommand(newServeCmd(newApp), newMigrateCmd(newApp), newStatusCmd(newApp))
	return root
}

// cliApp builds the app for one-shot commands: logs go to stderr so stdout
// carries only the command result.
func cliApp(newApp appFactory) (*app.App, error) {
	return newApp(os.Stderr)
}

type closer interface {
	Close(ctx context.Context) error
}

// closeInto closes c and joins its error into *err.
func closeInto(ctx context.Context, c closer, err *error) {
	*err = errors.Join(*err, c.Close(ctx))
}
