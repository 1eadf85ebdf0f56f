package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show features, pending approvals, and usage",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	statusStyles = map[models.FeatureStatus]lipgloss.Style{
		models.FeatureStatusPending:      lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		models.FeatureStatusRunning:      lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.FeatureStatusPaused:       lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		models.FeatureStatusFailed:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.FeatureStatusCompleted:    lipgloss.NewStyle().Foreground(lipgloss.Color("40")),
		models.FeatureStatusHumanTesting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.store.ListProjects()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		p, err := a.store.GetProject(args[0])
		if err != nil {
			return err
		}
		projects = []*models.Project{p}
	}
	if len(projects) == 0 {
		fmt.Println("No projects. Run 'ultracode project create <name> <folder>' to start.")
		return nil
	}

	for _, p := range projects {
		fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%s)", p.Name, p.ID)))
		fmt.Println(dimStyle.Render("  " + p.FolderPath))

		features, err := a.store.GetFeaturesByProject(p.ID)
		if err != nil {
			return err
		}
		if len(features) == 0 {
			fmt.Println(dimStyle.Render("  no features"))
		}
		for _, f := range features {
			style, ok := statusStyles[f.Status]
			if !ok {
				style = dimStyle
			}
			line := fmt.Sprintf("  [%s] %-14s %s", f.Priority, f.Status, f.Name)
			fmt.Println(style.Render(line))
			if f.Error != "" {
				fmt.Println(dimStyle.Render("      " + f.Error))
			}
		}

		if err := printUsage(a, p.ID); err != nil {
			return err
		}
		fmt.Println()
	}

	return printPendingApprovals(a)
}

func printUsage(a *app, projectID string) error {
	aggs, err := a.store.GetUsageByProject(projectID)
	if err != nil {
		return err
	}
	if len(aggs) == 0 {
		return nil
	}
	var tokens int64
	var cost float64
	for _, agg := range aggs {
		tokens += agg.TotalTokens
		cost += agg.Cost
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("  usage: %d tokens, $%.4f", tokens, cost)))
	return nil
}

func printPendingApprovals(a *app) error {
	pending, err := a.store.ListPendingCommands()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	fmt.Println(headerStyle.Render("Pending approvals"))
	for _, pc := range pending {
		fmt.Printf("  %s  [%s] %s\n", pc.ID, pc.Severity, pc.Command)
	}
	fmt.Println(dimStyle.Render("  approve with 'ultracode approve <id>', reject with 'ultracode approve --deny <id>'"))
	return nil
}
