// Package logging provides structured logging for model interactions.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode controls how much of each model interaction is logged.
type Mode string

const (
	// ModeOff disables interaction logging.
	ModeOff Mode = "off"
	// ModePreview logs truncated prompts and outputs.
	ModePreview Mode = "preview"
	// ModeFull logs complete prompts and outputs.
	ModeFull Mode = "full"
)

// previewLimit is how many characters of prompt/output preview mode keeps.
const previewLimit = 400

// LLMLogger records every provider interaction as structured log lines.
type LLMLogger struct {
	mode   Mode
	logger *zap.Logger
}

// NewLLMLogger creates a logger writing JSON lines to path. Mode off returns
// a no-op logger without touching the filesystem.
func NewLLMLogger(mode Mode, path string) (*LLMLogger, error) {
	if mode == "" {
		mode = ModeOff
	}
	if mode == ModeOff {
		return &LLMLogger{mode: mode, logger: zap.NewNop()}, nil
	}
	if mode != ModePreview && mode != ModeFull {
		return nil, fmt.Errorf("unknown llm log mode %q", mode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &LLMLogger{mode: mode, logger: logger}, nil
}

// NewNop returns a disabled logger for tests.
func NewNop() *LLMLogger {
	return &LLMLogger{mode: ModeOff, logger: zap.NewNop()}
}

// Interaction logs one provider call.
func (l *LLMLogger) Interaction(projectID, role, model, prompt, output string, inputTokens, outputTokens int64) {
	if l == nil || l.mode == ModeOff {
		return
	}
	l.logger.Info("llm_interaction",
		zap.String("project_id", projectID),
		zap.String("role", role),
		zap.String("model", model),
		zap.String("prompt", l.clip(prompt)),
		zap.String("output", l.clip(output)),
		zap.Int64("input_tokens", inputTokens),
		zap.Int64("output_tokens", outputTokens),
	)
}

// Error logs a failed provider call.
func (l *LLMLogger) Error(projectID, role, model string, err error) {
	if l == nil || l.mode == ModeOff {
		return
	}
	l.logger.Warn("llm_error",
		zap.String("project_id", projectID),
		zap.String("role", role),
		zap.String("model", model),
		zap.Error(err),
	)
}

// Sync flushes buffered log entries.
func (l *LLMLogger) Sync() error {
	if l == nil || l.logger == nil {
		return nil
	}
	return l.logger.Sync()
}

func (l *LLMLogger) clip(s string) string {
	if l.mode == ModeFull || len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}
