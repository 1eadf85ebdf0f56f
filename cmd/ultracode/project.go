package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

var (
	projectDescription string
	projectType        string
	projectPlanner     string
	projectExecutor    string
	projectVoter       string
	projectRemoveDir   bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name> <folder>",
	Short: "Register a project folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		folder, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolve folder: %w", err)
		}
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("create folder: %w", err)
		}

		p := &models.Project{
			Name:        args[0],
			Description: projectDescription,
			FolderPath:  folder,
			ProjectType: projectType,
			Models: models.ModelBindings{
				Planner:  projectPlanner,
				Executor: projectExecutor,
				Voter:    projectVoter,
			},
		}
		if err := a.store.CreateProject(p); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if err := seedGuidelines(folder, p.Name, projectDescription); err != nil {
			return err
		}
		fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.store.ListProjects()
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects. Run 'ultracode project create <name> <folder>' to start.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %-20s %s\n", p.ID, p.Name, p.FolderPath)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.DeleteProject(args[0], projectRemoveDir); err != nil {
			return err
		}
		a.bus.Publish(models.Event{
			ProjectID: args[0],
			Type:      models.EventProjectDeleted,
			Timestamp: time.Now(),
		})
		fmt.Printf("Deleted project %s\n", args[0])
		return nil
	},
}

// seedGuidelines writes project.md once so there is a place for human
// guidelines the planner includes in its prompts.
func seedGuidelines(folder, name, description string) error {
	path := filepath.Join(folder, "project.md")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content := "# " + name + "\n\n" + description + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write project.md: %w", err)
	}
	return nil
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project guidelines passed to the planner")
	projectCreateCmd.Flags().StringVar(&projectType, "type", "", "Project type hint, e.g. node or python")
	projectCreateCmd.Flags().StringVar(&projectPlanner, "planner", "anthropic:claude-sonnet-4-20250514", "Planner model reference")
	projectCreateCmd.Flags().StringVar(&projectExecutor, "executor", "anthropic:claude-sonnet-4-20250514", "Executor model reference")
	projectCreateCmd.Flags().StringVar(&projectVoter, "voter", "", "Voter model reference (defaults to the executor)")
	projectDeleteCmd.Flags().BoolVar(&projectRemoveDir, "remove-folder", false, "Also remove the project folder from disk")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}
