// Package bootstrap prepares a project folder for execution: it runs the
// project's init script once, records completion in a marker file, and
// re-verifies declared dependency directories on later runs.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tomgoeck/Ultracode-sub000/internal/command"
)

const (
	// InitScript is the setup script expected at the project root.
	InitScript = "init.sh"
	// DoneMarker records that init completed successfully.
	DoneMarker = ".init-done"
	// initTimeout bounds one init run.
	initTimeout = 5 * time.Minute
	// readyPollInterval is the fallback cadence when the watcher is unavailable.
	readyPollInterval = 500 * time.Millisecond
)

// Bootstrapper initializes project folders.
type Bootstrapper struct {
	runner *command.Runner
	// dependencyDirs are directories that must exist for the project to be
	// considered initialized, e.g. node_modules or .venv.
	dependencyDirs []string
	onChunk        func(stream, chunk string)
}

// New creates a Bootstrapper. runner may be nil, in which case init scripts
// cannot be executed and Bootstrap fails when one is needed.
func New(runner *command.Runner, dependencyDirs []string, onChunk func(stream, chunk string)) *Bootstrapper {
	return &Bootstrapper{runner: runner, dependencyDirs: dependencyDirs, onChunk: onChunk}
}

// Initialized reports whether the folder carries the done marker and all
// declared dependency directories.
func (b *Bootstrapper) Initialized(folder string) bool {
	if _, err := os.Stat(filepath.Join(folder, DoneMarker)); err != nil {
		return false
	}
	return b.dependenciesPresent(folder)
}

func (b *Bootstrapper) dependenciesPresent(folder string) bool {
	for _, dir := range b.dependencyDirs {
		info, err := os.Stat(filepath.Join(folder, dir))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Bootstrap initializes the folder. It is idempotent: when the marker exists
// and every dependency directory is present it does nothing. A present marker
// with missing dependencies triggers a re-run of the init script.
func (b *Bootstrapper) Bootstrap(ctx context.Context, folder string) error {
	if b.Initialized(folder) {
		return nil
	}

	script := filepath.Join(folder, InitScript)
	if _, err := os.Stat(script); err != nil {
		// No script: nothing to run, mark the folder done as-is.
		return b.writeMarker(folder)
	}
	if b.runner == nil {
		return fmt.Errorf("init script present but no command runner attached")
	}

	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	res, err := b.runner.Run(ctx, command.Request{
		Cmd:     "sh " + InitScript,
		Cwd:     folder,
		Force:   true,
		OnChunk: b.onChunk,
	})
	if err != nil {
		return fmt.Errorf("run init script: %w", err)
	}
	if res.Err != "" {
		return fmt.Errorf("init script failed: %s", res.Err)
	}

	if !b.dependenciesPresent(folder) {
		return fmt.Errorf("init script completed but dependencies are still missing")
	}
	return b.writeMarker(folder)
}

func (b *Bootstrapper) writeMarker(folder string) error {
	marker := filepath.Join(folder, DoneMarker)
	if err := os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("write init marker: %w", err)
	}
	return nil
}

// WaitReady blocks until the folder's done marker appears or the context
// expires. It prefers a filesystem watcher and falls back to polling when
// one cannot be established.
func WaitReady(ctx context.Context, folder string) error {
	marker := filepath.Join(folder, DoneMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollReady(ctx, marker)
	}
	defer watcher.Close()
	if err := watcher.Add(folder); err != nil {
		return pollReady(ctx, marker)
	}

	// The marker may have appeared between the stat and the watch.
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return pollReady(ctx, marker)
			}
			if filepath.Base(event.Name) == DoneMarker &&
				(event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				return nil
			}
		case <-watcher.Errors:
			// Keep watching; the poll below is the safety net.
		case <-time.After(readyPollInterval):
			if _, err := os.Stat(marker); err == nil {
				return nil
			}
		}
	}
}

func pollReady(ctx context.Context, marker string) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(marker); err == nil {
				return nil
			}
		}
	}
}
