package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/app"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the observability server",
		Long: "Serves the health, session, thread, and WebSocket event endpoints.\n" +
			"The server runs read-only whenever another process holds the write lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)
			root, err := app.ResolveRoot(projectFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{
				ProjectRoot: root,
				Interface:   sessionlock.InterfaceWeb,
				Mode:        sessionlock.ModeRead,
				Version:     version,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}
