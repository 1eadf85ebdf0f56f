package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLLMLogger_OffIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.log")
	l, err := NewLLMLogger(ModeOff, path)
	if err != nil {
		t.Fatalf("NewLLMLogger failed: %v", err)
	}

	l.Interaction("p1", "voter", "m", "prompt", "output", 1, 2)
	l.Sync()

	if _, err := os.Stat(path); err == nil {
		t.Error("off mode must not create the log file")
	}
}

func TestNewLLMLogger_UnknownMode(t *testing.T) {
	if _, err := NewLLMLogger("verbose", "x.log"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestInteraction_PreviewTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.log")
	l, err := NewLLMLogger(ModePreview, path)
	if err != nil {
		t.Fatalf("NewLLMLogger failed: %v", err)
	}

	long := strings.Repeat("p", previewLimit*2)
	l.Interaction("p1", "subtask", "anthropic:claude-sonnet-4-5", long, "short output", 10, 5)
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "llm_interaction") {
		t.Error("interaction entry missing")
	}
	if strings.Contains(line, long) {
		t.Error("preview mode must truncate long prompts")
	}
	if !strings.Contains(line, "short output") {
		t.Error("short output should be intact")
	}
}

func TestInteraction_FullKeepsEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.log")
	l, err := NewLLMLogger(ModeFull, path)
	if err != nil {
		t.Fatalf("NewLLMLogger failed: %v", err)
	}

	long := strings.Repeat("q", previewLimit+100)
	l.Interaction("p1", "planner", "m", long, long, 0, 0)
	l.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), long) {
		t.Error("full mode must keep the complete prompt")
	}
}

func TestError_Logged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.log")
	l, err := NewLLMLogger(ModePreview, path)
	if err != nil {
		t.Fatalf("NewLLMLogger failed: %v", err)
	}

	l.Error("p1", "voter", "m", os.ErrDeadlineExceeded)
	l.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "llm_error") {
		t.Error("error entry missing")
	}
}

func TestNop_SafeOnNil(t *testing.T) {
	var l *LLMLogger
	l.Interaction("p", "r", "m", "x", "y", 0, 0)
	l.Error("p", "r", "m", os.ErrClosed)
	if err := l.Sync(); err != nil {
		t.Errorf("Sync on nil = %v", err)
	}
}
