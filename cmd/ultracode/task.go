package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/internal/action"
	"github.com/tomgoeck/Ultracode-sub000/internal/guard"
	"github.com/tomgoeck/Ultracode-sub000/internal/orchestrator"
	"github.com/tomgoeck/Ultracode-sub000/internal/paraphrase"
	"github.com/tomgoeck/Ultracode-sub000/internal/vote"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

var (
	taskModel string
	taskApply string
	taskPath  string
	taskKeep  bool
)

var taskCmd = &cobra.Command{
	Use:   "task <goal>",
	Short: "Run a one-off task in a transient workspace",
	Long: `Run a single task outside any project. A fresh workspace is created
under the data directory, the goal is executed there with consensus voting,
and the workspace is removed afterwards unless --keep is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		gen, err := a.registry.Ensure(taskModel)
		if err != nil {
			return fmt.Errorf("task model: %w", err)
		}

		taskID := uuid.NewString()
		workspace := filepath.Join(a.cfg.WorkspacesDir(), taskID)
		if err := os.MkdirAll(workspace, 0755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		if !taskKeep {
			defer os.RemoveAll(workspace)
		}

		g, err := guard.New(workspace)
		if err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}
		prompter := paraphrase.New(gen, taskModel)
		orch := orchestrator.New(a.store, a.bus, action.New(g, a.runner), a.runner, prompter, a.acct, a.llmLog)

		sub := a.bus.Subscribe()
		defer sub.Cancel()
		printDone := make(chan struct{})
		go func() {
			defer close(printDone)
			for e := range sub.C {
				printEvent(e)
			}
		}()

		apply := models.Apply{Type: models.ApplyType(taskApply), Path: taskPath}
		if taskApply != "" && !apply.Type.Valid() {
			return fmt.Errorf("unknown apply type %q", taskApply)
		}
		task := &orchestrator.Task{
			Title:         "ad-hoc: " + args[0],
			Goal:          args[0],
			Executor:      gen,
			ExecutorModel: taskModel,
			Voting: vote.Config{
				K:              a.cfg.Voting.K,
				InitialSamples: a.cfg.Voting.InitialSamples,
				MaxSamples:     a.cfg.Voting.MaxSamples,
				Temperature:    -1,
			},
		}
		subtask := &models.Subtask{
			ID:     taskID,
			Intent: args[0],
			Apply:  apply,
		}

		res := orch.RunSubtask(cmd.Context(), task, subtask)
		sub.Cancel()
		<-printDone
		if res.Err != nil {
			return res.Err
		}
		color.New(color.FgGreen).Printf("done (lead %d)\n", res.LeadBy)
		if taskKeep {
			fmt.Printf("workspace kept at %s\n", workspace)
		}
		return nil
	},
}

func init() {
	taskCmd.Flags().StringVar(&taskModel, "model", "anthropic:claude-sonnet-4-20250514", "Executor model reference")
	taskCmd.Flags().StringVar(&taskApply, "apply", "", "Apply type for the result (default: untyped actions)")
	taskCmd.Flags().StringVar(&taskPath, "path", "", "Target path for file apply types")
	taskCmd.Flags().BoolVar(&taskKeep, "keep", false, "Keep the workspace after the run")
}
