package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ultracode",
	Short: "Autonomous feature execution engine",
	Long: `Ultracode plans features into subtasks, samples multiple model
completions per subtask, and applies the consensus winner to the project
workspace under path-safety guarantees.

Core capabilities:
- Decomposes features into ordered subtasks
- Votes candidate outputs to a first-to-lead-by-k consensus
- Confines every write and patch to the project folder
- Queues risky shell commands for approval
- Records runs, votes, and events for audit`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
