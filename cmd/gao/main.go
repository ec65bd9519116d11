// Command gao is the development orchestrator CLI: plan a request into a
// workflow sequence, serve the observability API, and manage the session
// lock.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var projectFlag string

func main() {
	root := &cobra.Command{
		Use:     "gao",
		Short:   "Scale-adaptive development workflow orchestrator",
		Version: version,
		Long: "gao plans development requests into workflow sequences, runs them\n" +
			"through an agent runtime, and records everything in a per-project\n" +
			"state store under .gao-dev/.",
	}
	root.PersistentFlags().StringVar(&projectFlag, "project", "",
		"project root (defaults to the working directory)")

	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newLockCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
