package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomgoeck/Ultracode-sub000/internal/command"
	"github.com/tomgoeck/Ultracode-sub000/internal/store"
)

func setupRunner(t *testing.T) *command.Runner {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return command.NewRunner(nil, command.ModeAuto, st)
}

func writeScript(t *testing.T, folder, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(folder, InitScript), []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func TestBootstrap_RunsScriptAndMarks(t *testing.T) {
	folder := t.TempDir()
	writeScript(t, folder, "#!/bin/sh\nmkdir -p node_modules\necho ran >> init.log\n")

	b := New(setupRunner(t), []string{"node_modules"}, nil)
	if err := b.Bootstrap(context.Background(), folder); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(folder, DoneMarker)); err != nil {
		t.Error("done marker not written")
	}
	if !b.Initialized(folder) {
		t.Error("folder not reported initialized")
	}
}

func TestBootstrap_Idempotent(t *testing.T) {
	folder := t.TempDir()
	writeScript(t, folder, "#!/bin/sh\nmkdir -p node_modules\necho ran >> init.log\n")

	b := New(setupRunner(t), []string{"node_modules"}, nil)
	for i := 0; i < 3; i++ {
		if err := b.Bootstrap(context.Background(), folder); err != nil {
			t.Fatalf("Bootstrap run %d failed: %v", i, err)
		}
	}

	log, err := os.ReadFile(filepath.Join(folder, "init.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(log), "ran"); n != 1 {
		t.Errorf("script ran %d times, want 1", n)
	}
}

func TestBootstrap_ReRunsWhenDependenciesMissing(t *testing.T) {
	folder := t.TempDir()
	writeScript(t, folder, "#!/bin/sh\nmkdir -p node_modules\necho ran >> init.log\n")

	b := New(setupRunner(t), []string{"node_modules"}, nil)
	if err := b.Bootstrap(context.Background(), folder); err != nil {
		t.Fatalf("first Bootstrap failed: %v", err)
	}

	// Simulate a wiped dependency install; the marker survives.
	if err := os.RemoveAll(filepath.Join(folder, "node_modules")); err != nil {
		t.Fatalf("remove deps: %v", err)
	}
	if err := b.Bootstrap(context.Background(), folder); err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}

	log, _ := os.ReadFile(filepath.Join(folder, "init.log"))
	if n := strings.Count(string(log), "ran"); n != 2 {
		t.Errorf("script ran %d times, want 2 (reinstall)", n)
	}
}

func TestBootstrap_NoScriptJustMarks(t *testing.T) {
	folder := t.TempDir()
	b := New(nil, nil, nil)

	if err := b.Bootstrap(context.Background(), folder); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if !b.Initialized(folder) {
		t.Error("folder without a script should be marked done")
	}
}

func TestBootstrap_FailingScript(t *testing.T) {
	folder := t.TempDir()
	writeScript(t, folder, "#!/bin/sh\nexit 9\n")

	b := New(setupRunner(t), nil, nil)
	err := b.Bootstrap(context.Background(), folder)
	if err == nil || !strings.Contains(err.Error(), "exit 9") {
		t.Errorf("err = %v, want script failure", err)
	}
	if _, serr := os.Stat(filepath.Join(folder, DoneMarker)); serr == nil {
		t.Error("marker written despite failure")
	}
}

func TestBootstrap_ScriptLeavesDependenciesMissing(t *testing.T) {
	folder := t.TempDir()
	writeScript(t, folder, "#!/bin/sh\ntrue\n")

	b := New(setupRunner(t), []string{"vendor"}, nil)
	err := b.Bootstrap(context.Background(), folder)
	if err == nil || !strings.Contains(err.Error(), "still missing") {
		t.Errorf("err = %v, want missing-dependency failure", err)
	}
}

func TestWaitReady_ImmediateWhenMarkerExists(t *testing.T) {
	folder := t.TempDir()
	if err := os.WriteFile(filepath.Join(folder, DoneMarker), []byte("x"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := WaitReady(context.Background(), folder); err != nil {
		t.Errorf("WaitReady = %v", err)
	}
}

func TestWaitReady_SeesMarkerAppear(t *testing.T) {
	folder := t.TempDir()

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(filepath.Join(folder, DoneMarker), []byte("x"), 0644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitReady(ctx, folder); err != nil {
		t.Errorf("WaitReady = %v", err)
	}
}

func TestWaitReady_ContextExpires(t *testing.T) {
	folder := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := WaitReady(ctx, folder)
	if err == nil {
		t.Error("expected context expiry")
	}
}
