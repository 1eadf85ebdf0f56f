package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/internal/bootstrap"
	"github.com/tomgoeck/Ultracode-sub000/internal/manager"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

var runAll bool

var runCmd = &cobra.Command{
	Use:   "run <project-id> [feature]",
	Short: "Execute the next runnable feature, or a specific one",
	Long: `Execute work in a project.

With only a project id, picks the next runnable feature by priority and
order, preferring paused features. With a feature argument, executes that
feature. --all drains every runnable feature in sequence.

Ctrl-C requests a pause; the in-flight subtask finishes and the feature
stops cleanly at the next boundary. A second Ctrl-C records the stop as an
abort instead.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every runnable feature until none remain")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	projectID := args[0]
	project, err := a.store.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}

	if err := a.manager.Recover(); err != nil {
		return err
	}

	boot := bootstrap.New(a.runner, dependencyDirsFor(project.ProjectType), func(stream, chunk string) {
		fmt.Print(chunk)
	})
	if err := boot.Bootstrap(cmd.Context(), project.FolderPath); err != nil {
		return fmt.Errorf("bootstrap %s: %w", project.FolderPath, err)
	}

	sub := a.bus.Subscribe()
	defer sub.Cancel()
	printDone := make(chan struct{})
	go func() {
		defer close(printDone)
		for e := range sub.C {
			printEvent(e)
		}
	}()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println("\nPause requested; finishing the current subtask...")
		pauseRunning(a, projectID)
		<-sigs
		fmt.Println("\nAborting after the current subtask...")
		abortRunning(a, projectID)
	}()

	switch {
	case len(args) == 2:
		id, err := a.manager.ResolveFeatureID(projectID, args[1])
		if err != nil {
			return err
		}
		err = a.manager.ExecuteFeature(ctx, id)
		sub.Cancel()
		<-printDone
		return err
	case runAll:
		err := a.manager.RunProject(ctx, projectID)
		sub.Cancel()
		<-printDone
		return err
	default:
		_, err := a.manager.ExecuteNextRunnable(ctx, projectID)
		sub.Cancel()
		<-printDone
		if errors.Is(err, manager.ErrNotRunnable) {
			fmt.Println("No runnable features. Run 'ultracode status' to see why.")
			return nil
		}
		return err
	}
}

// pauseRunning requests a pause for every running feature of the project.
func pauseRunning(a *app, projectID string) {
	features, err := a.store.GetFeaturesByProject(projectID)
	if err != nil {
		return
	}
	for _, f := range features {
		if f.Status == models.FeatureStatusRunning {
			_ = a.manager.RequestPause(f.ID)
		}
	}
}

// abortRunning flags every running feature of the project as aborted.
func abortRunning(a *app, projectID string) {
	features, err := a.store.GetFeaturesByProject(projectID)
	if err != nil {
		return
	}
	for _, f := range features {
		if f.Status == models.FeatureStatusRunning {
			_ = a.manager.Abort(f.ID)
		}
	}
}

// dependencyDirsFor maps a project type to the directories its installer
// produces, used by bootstrap re-verification.
func dependencyDirsFor(projectType string) []string {
	switch strings.ToLower(projectType) {
	case "node", "javascript", "typescript":
		return []string{"node_modules"}
	case "python":
		return []string{".venv"}
	default:
		return nil
	}
}

func printEvent(e models.Event) {
	switch e.Type {
	case models.EventFeatureStarted:
		color.New(color.FgCyan).Printf("▶ feature started: %v\n", e.Payload["name"])
	case models.EventFeaturePlanning:
		fmt.Println("  planning...")
	case models.EventPlannerProgress:
		fmt.Printf("  %v\n", e.Payload["message"])
	case models.EventFeaturePlanned:
		fmt.Printf("  planned %v subtask(s)\n", e.Payload["subtasks"])
	case models.EventSubtaskStarted:
		fmt.Printf("  ◦ %v\n", e.Payload["intent"])
	case models.EventVoteSummary:
		fmt.Printf("    votes: %v sample(s), lead %v, margin met: %v\n",
			e.Payload["samples"], e.Payload["lead_by"], e.Payload["margin_met"])
	case models.EventSubtaskCompleted:
		color.New(color.FgGreen).Println("    done")
	case models.EventSubtaskFailed:
		color.New(color.FgRed).Printf("    failed: %v\n", e.Payload["error"])
	case models.EventCommandOutput:
		if chunk, ok := e.Payload["chunk"].(string); ok {
			fmt.Print(chunk)
		}
	case models.EventFeatureCompleted:
		color.New(color.FgGreen).Println("✓ feature completed")
	case models.EventFeatureAwaitingTest:
		color.New(color.FgYellow).Println("⚑ feature awaiting human testing; promote with 'ultracode feature done'")
	case models.EventFeaturePaused:
		color.New(color.FgYellow).Println("⏸ feature paused")
	case models.EventFeatureFailed:
		color.New(color.FgRed).Printf("✗ feature failed: %v\n", e.Payload["error"])
	}
}
