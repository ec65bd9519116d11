package main

import (
	"github.com/spf13/cobra"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/app"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the session lock",
	}
	cmd.AddCommand(newLockStatusCmd(), newForceUnlockCmd())
	return cmd
}

func newLockStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who holds the session lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := app.ResolveRoot(projectFlag)
			if err != nil {
				return err
			}

			state := sessionlock.New(root).GetLockState()
			if state.Mode == sessionlock.ModeNone {
				cmd.Println("unlocked")
				return nil
			}
			cmd.Printf("%s lock held by %s (pid %d)\n", state.Mode, state.Holder, state.PID)
			if state.Timestamp != nil {
				cmd.Printf("acquired at %s\n", state.Timestamp.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}

func newForceUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-unlock",
		Short: "Remove the session lock file",
		Long: "Removes the lock file when its holder is dead or the file is corrupt.\n" +
			"Refuses to unlock while the holding process is still alive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := app.ResolveRoot(projectFlag)
			if err != nil {
				return err
			}

			if err := sessionlock.New(root).ForceUnlock(); err != nil {
				return err
			}
			cmd.Println("lock cleared")
			return nil
		},
	}
}
