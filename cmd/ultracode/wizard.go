package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

const wizardPreamble = `You are helping a developer turn a rough idea into a
project description an autonomous coding system can execute. Ask clarifying
questions when the idea is vague. When the developer asks for a summary,
reply with a single self-contained project description and nothing else.`

var projectWizardCmd = &cobra.Command{
	Use:   "wizard <id>",
	Short: "Refine a project description in a chat with the planner model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		project, err := a.store.GetProject(args[0])
		if err != nil {
			return err
		}
		gen, err := a.registry.Ensure(project.Models.Planner)
		if err != nil {
			return fmt.Errorf("planner model for wizard: %w", err)
		}
		chat := &meteredGenerator{
			inner:     gen,
			projectID: project.ID,
			role:      models.RoleChat,
			model:     project.Models.Planner,
			acct:      a.acct,
			llmLog:    a.llmLog,
		}

		history, err := a.store.ListWizardMessages(project.ID)
		if err != nil {
			return err
		}
		for _, m := range history {
			printWizardMessage(m.Role, m.Content)
		}
		fmt.Println("Describe the project. /save stores the last reply as the description, /quit exits.")

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var lastReply string
		for {
			color.New(color.FgGreen).Print("you> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/save":
				if lastReply == "" {
					fmt.Println("Nothing to save yet.")
					continue
				}
				project.Description = lastReply
				if err := a.store.UpdateProject(project); err != nil {
					return err
				}
				guidelines := "# " + project.Name + "\n\n" + lastReply + "\n"
				path := filepath.Join(project.FolderPath, "project.md")
				if err := os.WriteFile(path, []byte(guidelines), 0644); err != nil {
					return fmt.Errorf("write project.md: %w", err)
				}
				fmt.Println("Saved as the project description.")
				continue
			}

			if err := a.store.RecordWizardMessage(project.ID, "user", line); err != nil {
				return err
			}
			history = append(history, &models.WizardMessage{Role: "user", Content: line})

			ctx := cmd.Context()
			comp, err := chat.Generate(ctx, wizardPrompt(project, history), provider.Options{})
			if err != nil {
				color.New(color.FgRed).Printf("wizard error: %v\n", err)
				continue
			}
			lastReply = strings.TrimSpace(comp.Content)
			if err := a.store.RecordWizardMessage(project.ID, "assistant", lastReply); err != nil {
				return err
			}
			history = append(history, &models.WizardMessage{Role: "assistant", Content: lastReply})
			printWizardMessage("assistant", lastReply)
		}
	},
}

func wizardPrompt(project *models.Project, history []*models.WizardMessage) string {
	var b strings.Builder
	b.WriteString(wizardPreamble)
	b.WriteString("\n\nProject name: " + project.Name + "\n")
	if project.Description != "" {
		b.WriteString("Current description: " + project.Description + "\n")
	}
	b.WriteString("\nConversation so far:\n")
	for _, m := range history {
		b.WriteString(m.Role + ": " + m.Content + "\n")
	}
	b.WriteString("assistant:")
	return b.String()
}

func printWizardMessage(role, content string) {
	if role == "user" {
		color.New(color.FgGreen).Printf("you> %s\n", content)
		return
	}
	color.New(color.FgCyan).Printf("wizard> %s\n", content)
}

func init() {
	projectCmd.AddCommand(projectWizardCmd)
}
