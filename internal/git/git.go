// Package git commits completed feature work in project folders that are
// git repositories. Folders without a repository are silently skipped.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// Committer records one commit per finished feature.
type Committer struct{}

// NewCommitter creates a Committer.
func NewCommitter() *Committer {
	return &Committer{}
}

// Commit stages everything in the project folder and commits it with a
// message derived from the feature. No-ops when the folder is not a git
// repository or when there is nothing to commit.
func (c *Committer) Commit(ctx context.Context, project *models.Project, feature *models.Feature, summary string) error {
	if !isRepo(project.FolderPath) {
		return nil
	}

	if _, err := run(ctx, project.FolderPath, "add", "-A"); err != nil {
		return err
	}

	status, err := run(ctx, project.FolderPath, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}

	message := commitMessage(feature, summary)
	_, err = run(ctx, project.FolderPath, "commit", "-m", message)
	return err
}

func commitMessage(feature *models.Feature, summary string) string {
	subject := "Implement " + feature.Name
	if summary == "" {
		return subject
	}
	return subject + "\n\n" + summary
}

func isRepo(folder string) bool {
	info, err := os.Stat(filepath.Join(folder, ".git"))
	return err == nil && info.IsDir()
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}
