package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

var (
	featurePriority    string
	featureDescription string
	featureDone        string
	featureDependsOn   []string
	featureOrder       int
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Manage features",
}

var featureAddCmd = &cobra.Command{
	Use:   "add <project-id> <name>",
	Short: "Add a feature to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := args[0]
		if _, err := a.store.GetProject(projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}

		deps := make([]string, 0, len(featureDependsOn))
		for _, ref := range featureDependsOn {
			id, err := a.manager.ResolveFeatureID(projectID, ref)
			if err != nil {
				return fmt.Errorf("dependency %q: %w", ref, err)
			}
			deps = append(deps, id)
		}

		f := &models.Feature{
			ProjectID:        projectID,
			Name:             args[1],
			Description:      featureDescription,
			DefinitionOfDone: featureDone,
			Priority:         models.Priority(featurePriority),
			DependsOn:        deps,
			OrderIndex:       featureOrder,
		}
		if err := a.store.CreateFeature(f); err != nil {
			return fmt.Errorf("create feature: %w", err)
		}
		fmt.Printf("Added feature %s (%s)\n", f.Name, f.ID)
		return nil
	},
}

var featureListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's features in execution order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		features, err := a.store.GetFeaturesByProject(args[0])
		if err != nil {
			return err
		}
		for _, f := range features {
			fmt.Printf("%s  [%s] %-14s %s\n", f.ID, f.Priority, f.Status, f.Name)
		}
		return nil
	},
}

var featureRetryCmd = &cobra.Command{
	Use:   "retry <project-id> <feature>",
	Short: "Reset a failed feature to pending, keeping completed subtasks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.manager.ResolveFeatureID(args[0], args[1])
		if err != nil {
			return err
		}
		if err := a.manager.Retry(id); err != nil {
			return err
		}
		fmt.Printf("Feature %s reset to pending\n", id)
		return nil
	},
}

var featureResumeCmd = &cobra.Command{
	Use:   "resume <project-id> <feature>",
	Short: "Resume a paused feature, skipping completed subtasks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.manager.ResolveFeatureID(args[0], args[1])
		if err != nil {
			return err
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

		err = a.manager.Resume(cmd.Context(), id)
		sub.Cancel()
		<-printDone
		return err
	},
}

var featureRetrySubtaskCmd = &cobra.Command{
	Use:   "retry-subtask <subtask-id>",
	Short: "Reset and re-run a single subtask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sub := a.bus.Subscribe()
		defer sub.Cancel()
		printDone := make(chan struct{})
		go func() {
			defer close(printDone)
			for e := range sub.C {
				printEvent(e)
			}
		}()

		err = a.manager.RetrySubtask(cmd.Context(), args[0])
		sub.Cancel()
		<-printDone
		return err
	},
}

var featureDoneCmd = &cobra.Command{
	Use:   "done <project-id> <feature>",
	Short: "Promote a human_testing feature to completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.manager.ResolveFeatureID(args[0], args[1])
		if err != nil {
			return err
		}
		if err := a.manager.MarkAsCompleted(id); err != nil {
			return err
		}
		fmt.Printf("Feature %s marked completed\n", id)
		return nil
	},
}

func init() {
	featureAddCmd.Flags().StringVar(&featurePriority, "priority", "B", "Priority band: A, B, or C")
	featureAddCmd.Flags().StringVar(&featureDescription, "description", "", "What the feature should do")
	featureAddCmd.Flags().StringVar(&featureDone, "done-when", "", "Definition of done included in planning")
	featureAddCmd.Flags().StringSliceVar(&featureDependsOn, "depends-on", nil, "Feature ids this one depends on")
	featureAddCmd.Flags().IntVar(&featureOrder, "order", 0, "Order index within the priority band")

	featureCmd.AddCommand(featureAddCmd)
	featureCmd.AddCommand(featureListCmd)
	featureCmd.AddCommand(featureRetryCmd)
	featureCmd.AddCommand(featureResumeCmd)
	featureCmd.AddCommand(featureRetrySubtaskCmd)
	featureCmd.AddCommand(featureDoneCmd)
}
