package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/app"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/planner"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

// unconfiguredAnalyzer fails every request, which makes the planner fall back
// to its conservative default classification and ask for clarification. A
// real analysis service is wired in through the app options by embedders.
type unconfiguredAnalyzer struct{}

func (unconfiguredAnalyzer) Analyze(ctx context.Context, prompt string) (*planner.Analysis, error) {
	return nil, fmt.Errorf("no analysis service configured")
}

func newPlanCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "plan <prompt>",
		Short: "Classify a request and print its workflow sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)
			root, err := app.ResolveRoot(projectFlag)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), app.Options{
				ProjectRoot: root,
				Interface:   sessionlock.InterfaceCLI,
				Mode:        sessionlock.ModeRead,
				Analyzer:    unconfiguredAnalyzer{},
				Version:     version,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.Planner.PlanRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printPlan(cmd, plan)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func printPlan(cmd *cobra.Command, plan *planner.Plan) {
	cmd.Printf("Scale level: %s\n", plan.Analysis.ScaleLevel)
	cmd.Printf("Project type: %s\n", plan.Analysis.ProjectType)

	if len(plan.Questions) > 0 {
		cmd.Println("\nClarification needed before planning:")
		for _, q := range plan.Questions {
			cmd.Printf("  - %s\n", q)
		}
		return
	}

	cmd.Printf("Setup: %s\n", strings.Join(plan.Setup, " -> "))
	cmd.Printf("Per story: %s\n", strings.Join(plan.Loop, " -> "))
	if plan.JITTechSpecs {
		cmd.Println("Tech specs are generated just in time per story.")
	}
}
