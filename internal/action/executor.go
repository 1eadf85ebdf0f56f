// Package action translates a winning model output into structured effects
// against the guarded workspace and the command runner.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tomgoeck/Ultracode-sub000/internal/command"
	"github.com/tomgoeck/Ultracode-sub000/internal/guard"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// ActionResult records one applied action.
type ActionResult struct {
	// Kind is the action kind that ran.
	Kind string `json:"kind"`
	// Path is the affected file, if any.
	Path string `json:"path,omitempty"`
	// Detail carries kind-specific output (diff preview, command output, note).
	Detail string `json:"detail,omitempty"`
}

// ApplyResult is the outcome of applying a winner output.
type ApplyResult struct {
	// Completed lists actions that ran before any failure, in order.
	Completed []ActionResult `json:"completed"`
	// Err is set when an action failed; earlier effects remain applied.
	Err string `json:"error,omitempty"`
}

// Executor applies winner outputs. A shared state map carries values between
// subtasks of the same feature (statePatch writes it, writeFileFromState
// reads it).
type Executor struct {
	guard  *guard.Guard
	runner *command.Runner

	mu    sync.Mutex
	state map[string]string
}

// New creates an Executor over the given guard and command runner.
func New(g *guard.Guard, r *command.Runner) *Executor {
	return &Executor{guard: g, runner: r, state: make(map[string]string)}
}

// State returns the value stored under key by a previous statePatch.
func (e *Executor) State(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.state[key]
	return v, ok
}

// SetState seeds a state value, used when resuming a feature.
func (e *Executor) SetState(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state[key] = value
}

// Apply interprets winner according to the subtask's declared apply type.
// With no declared type, the winner must be the structured actions schema.
// On failure, completed actions remain applied and the error is returned in
// the result as well.
func (e *Executor) Apply(ctx context.Context, sub *models.Subtask, winner string) (*ApplyResult, error) {
	res := &ApplyResult{}

	var err error
	switch sub.Apply.Type {
	case models.ApplyWriteFile:
		err = e.writeFile(res, sub.Apply.Path, UnwrapFence(winner), false)
	case models.ApplyAppendFile:
		err = e.appendFile(res, sub.Apply.Path, UnwrapFence(winner))
	case models.ApplyEditFile:
		err = e.editFile(res, sub.Apply.Path, winner)
	case models.ApplyStatePatch:
		err = e.statePatch(res, sub, winner)
	case models.ApplyWriteFileFromState:
		err = e.writeFileFromState(res, sub)
	case models.ApplyActions, "":
		err = e.runActions(ctx, res, winner)
	default:
		err = fmt.Errorf("unknown apply type %q", sub.Apply.Type)
	}

	if err != nil {
		res.Err = err.Error()
		return res, err
	}
	return res, nil
}

func (e *Executor) writeFile(res *ApplyResult, path, content string, dryRun bool) error {
	if path == "" {
		return fmt.Errorf("writeFile: no path declared")
	}
	wr, err := e.guard.WriteFile(path, content, dryRun)
	if err != nil {
		return fmt.Errorf("writeFile %s: %w", path, err)
	}
	res.Completed = append(res.Completed, ActionResult{Kind: "write_file", Path: wr.Path})
	return nil
}

func (e *Executor) appendFile(res *ApplyResult, path, content string) error {
	if path == "" {
		return fmt.Errorf("appendFile: no path declared")
	}
	wr, err := e.guard.AppendFile(path, content, false)
	if err != nil {
		return fmt.Errorf("appendFile %s: %w", path, err)
	}
	res.Completed = append(res.Completed, ActionResult{Kind: "append_file", Path: wr.Path})
	return nil
}

// editFile expects a JSON {old_string, new_string} winner and replaces the
// first occurrence of old_string in the target file.
func (e *Executor) editFile(res *ApplyResult, path, winner string) error {
	if path == "" {
		return fmt.Errorf("editFile: no path declared")
	}
	var edit struct {
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	}
	if err := json.Unmarshal([]byte(UnwrapFence(winner)), &edit); err != nil {
		return fmt.Errorf("editFile %s: parse edit: %w", path, err)
	}
	if edit.OldString == "" {
		return fmt.Errorf("editFile %s: empty old_string", path)
	}

	current, err := e.guard.ReadFile(path)
	if err != nil {
		return fmt.Errorf("editFile %s: %w", path, err)
	}
	if !strings.Contains(current, edit.OldString) {
		return fmt.Errorf("editFile %s: old_string not found", path)
	}
	updated := strings.Replace(current, edit.OldString, edit.NewString, 1)
	if _, err := e.guard.WriteFile(path, updated, false); err != nil {
		return fmt.Errorf("editFile %s: %w", path, err)
	}
	res.Completed = append(res.Completed, ActionResult{Kind: "edit_file", Path: path})
	return nil
}

// statePatch stores the winner in the shared state. A JSON object winner
// merges its string values key by key; anything else is stored whole under
// the subtask's state key.
func (e *Executor) statePatch(res *ApplyResult, sub *models.Subtask, winner string) error {
	content := UnwrapFence(winner)

	e.mu.Lock()
	defer e.mu.Unlock()

	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		for k, v := range obj {
			if s, ok := v.(string); ok {
				e.state[k] = s
			} else {
				raw, _ := json.Marshal(v)
				e.state[k] = string(raw)
			}
		}
		res.Completed = append(res.Completed, ActionResult{Kind: "state_patch", Detail: fmt.Sprintf("%d keys", len(obj))})
		return nil
	}

	key := sub.Apply.StateKey
	if key == "" {
		key = sub.ID
	}
	e.state[key] = content
	res.Completed = append(res.Completed, ActionResult{Kind: "state_patch", Detail: key})
	return nil
}

func (e *Executor) writeFileFromState(res *ApplyResult, sub *models.Subtask) error {
	if sub.Apply.Path == "" {
		return fmt.Errorf("writeFileFromState: no path declared")
	}
	key := sub.Apply.StateKey
	if key == "" {
		return fmt.Errorf("writeFileFromState: no state key declared")
	}
	content, ok := e.State(key)
	if !ok {
		return fmt.Errorf("writeFileFromState: state key %q not set", key)
	}
	return e.writeFile(res, sub.Apply.Path, content, false)
}

// rawAction is one entry of the untyped actions schema.
type rawAction struct {
	Kind string `json:"kind"`

	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	DryRun  bool   `json:"dryRun,omitempty"`

	Patch string `json:"patch,omitempty"`

	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	NewText   string `json:"new_text,omitempty"`

	Cmd          string `json:"cmd,omitempty"`
	Cwd          string `json:"cwd,omitempty"`
	AllowIfRisky bool   `json:"allow_if_risky,omitempty"`

	Question string `json:"question,omitempty"`
}

// runActions parses the winner as {"actions": [...]} and applies each action
// in order, aborting at the first failure.
func (e *Executor) runActions(ctx context.Context, res *ApplyResult, winner string) error {
	var doc struct {
		Actions []rawAction `json:"actions"`
	}
	if err := json.Unmarshal([]byte(UnwrapFence(winner)), &doc); err != nil {
		return fmt.Errorf("parse actions: %w", err)
	}
	if len(doc.Actions) == 0 {
		return fmt.Errorf("no actions in winner")
	}

	for i, a := range doc.Actions {
		if err := e.runAction(ctx, res, a); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
		}
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, res *ApplyResult, a rawAction) error {
	switch a.Kind {
	case "write_file":
		wr, err := e.guard.WriteFile(a.Path, a.Content, a.DryRun)
		if err != nil {
			return err
		}
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Path: wr.Path})
	case "append_file":
		wr, err := e.guard.AppendFile(a.Path, a.Content, a.DryRun)
		if err != nil {
			return err
		}
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Path: wr.Path})
	case "apply_patch":
		wr, err := e.guard.ApplyPatch(a.Path, a.Patch)
		if err != nil {
			return err
		}
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Path: wr.Path})
	case "replace_range":
		wr, err := e.guard.ReplaceRange(a.Path, a.StartLine, a.EndLine, a.NewText)
		if err != nil {
			return err
		}
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Path: wr.Path})
	case "run_cmd":
		if e.runner == nil {
			return fmt.Errorf("no command runner attached")
		}
		out, err := e.runner.Run(ctx, command.Request{
			Cmd:   a.Cmd,
			Cwd:   a.Cwd,
			Force: a.AllowIfRisky,
		})
		if err != nil {
			return err
		}
		if out.Status == command.StatusBlocked {
			return fmt.Errorf("command blocked: %s", a.Cmd)
		}
		if out.Err != "" {
			return fmt.Errorf("command failed: %s", out.Err)
		}
		detail := out.Stdout
		if out.Status == command.StatusNeedsApproval {
			detail = "needs-approval: " + out.ApprovalID
		}
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Detail: detail})
	case "request_info":
		// Recorded only; never mutates.
		res.Completed = append(res.Completed, ActionResult{Kind: a.Kind, Detail: a.Question})
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// UnwrapFence strips a surrounding markdown code fence, including an
// optional language tag, from a model output.
func UnwrapFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return s
	}
	body := strings.Join(lines[1:len(lines)-1], "\n")
	if body != "" {
		body += "\n"
	}
	return body
}
