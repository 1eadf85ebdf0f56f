package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveDeny bool

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Run or reject a queued command",
	Long: `Risky commands queued in ask mode wait for explicit approval.

'ultracode status' lists pending approvals. Approving re-runs the command
with its original working directory; --deny discards it without running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := args[0]
		if approveDeny {
			if err := a.runner.Deny(id); err != nil {
				return err
			}
			fmt.Printf("Denied %s\n", id)
			return nil
		}

		res, err := a.runner.Approve(cmd.Context(), id, func(stream, chunk string) {
			fmt.Print(chunk)
		})
		if err != nil {
			return err
		}
		if res.Err != "" {
			return fmt.Errorf("command failed: %s", res.Err)
		}
		fmt.Printf("Completed %s (exit %d)\n", id, res.ExitCode)
		return nil
	},
}

func init() {
	approveCmd.Flags().BoolVar(&approveDeny, "deny", false, "Discard the queued command without running it")
}
