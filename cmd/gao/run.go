package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/app"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/ceremony"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/coordinator"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

// Agent runtime injection points. The stock binary ships without a workflow
// executor or ceremony runner; embedders assign these from their own main
// before calling Execute.
var (
	workflowExecutor coordinator.Executor
	ceremonyRunner   ceremony.Runner
)

func newRunCmd() *cobra.Command {
	var (
		verbose bool
		epicNum int
		stories int
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Plan a request and execute its workflow sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)
			if workflowExecutor == nil {
				return fmt.Errorf("no agent runtime configured: gao run needs a workflow executor injected by the embedding binary")
			}
			root, err := app.ResolveRoot(projectFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{
				ProjectRoot:    root,
				Interface:      sessionlock.InterfaceCLI,
				Mode:           sessionlock.ModeWrite,
				Analyzer:       unconfiguredAnalyzer{},
				Executor:       workflowExecutor,
				CeremonyRunner: ceremonyRunner,
				Version:        version,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.Planner.PlanRequest(ctx, args[0])
			if err != nil {
				return err
			}
			if len(plan.Questions) > 0 {
				printPlan(cmd, plan)
				return fmt.Errorf("clarification needed before running")
			}
			printPlan(cmd, plan)

			if err := seedEpic(ctx, a, epicNum, args[0]); err != nil {
				return err
			}

			res, err := a.Coordinator.RunSequence(ctx, coordinator.SequenceRequest{
				Plan:         plan,
				EpicNum:      epicNum,
				TotalStories: stories,
				Participants: a.Config.Participants,
			})
			if err != nil {
				return err
			}

			cmd.Printf("\nSequence %s finished: %d steps, %d stories completed\n",
				res.SequenceID, len(res.Steps), res.StoriesCompleted)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().IntVar(&epicNum, "epic", 1, "epic number to run under")
	cmd.Flags().IntVar(&stories, "stories", 0, "story count override (0 uses the plan's estimate)")
	return cmd
}

// seedEpic makes sure the default feature and the target epic exist before
// the coordinator starts creating stories under them.
func seedEpic(ctx context.Context, a *app.App, epicNum int, title string) error {
	if _, err := a.Features.Create(ctx, "mvp", ""); err != nil &&
		!errors.Is(err, services.ErrAlreadyExists) {
		return err
	}

	_, err := a.Epics.Get(ctx, epicNum)
	if errors.Is(err, services.ErrNotFound) {
		_, err = a.Epics.Create(ctx, services.CreateEpicRequest{
			EpicNum: epicNum,
			Title:   title,
			Feature: "mvp",
		})
	}
	return err
}
