// Package orchestrator runs one subtask end to end: prompt assembly,
// consensus sampling, candidate persistence, and applying the winner.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomgoeck/Ultracode-sub000/internal/action"
	"github.com/tomgoeck/Ultracode-sub000/internal/command"
	"github.com/tomgoeck/Ultracode-sub000/internal/events"
	"github.com/tomgoeck/Ultracode-sub000/internal/logging"
	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/redflag"
	"github.com/tomgoeck/Ultracode-sub000/internal/store"
	"github.com/tomgoeck/Ultracode-sub000/internal/usage"
	"github.com/tomgoeck/Ultracode-sub000/internal/vote"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// winnerPreviewLen bounds the winner preview carried in vote-summary events.
const winnerPreviewLen = 200

// Task is the execution envelope shared by all subtasks of one feature run.
type Task struct {
	// Title names the run for snapshots.
	Title string
	// Goal is the feature-level objective included in every prompt.
	Goal string
	// ProjectID and FeatureID locate the work.
	ProjectID string
	FeatureID string
	// Executor generates subtask completions.
	Executor provider.Generator
	// ExecutorModel is the bound model reference, for usage accounting.
	ExecutorModel string
	// Voting parameterizes consensus sampling.
	Voting vote.Config
	// Rules are red-flag rules applied to each sample.
	Rules []redflag.Rule
	// RunID groups steps under one run snapshot. Set by the first step.
	RunID string
	// StateSlice is extra context carried between subtasks.
	StateSlice string
}

// StepResult is the outcome of running one subtask.
type StepResult struct {
	// Winner is the consensus output, empty when no winner emerged.
	Winner string
	// LeadBy is the winning margin.
	LeadBy int
	// Applied reports whether the winner was applied to the workspace.
	Applied bool
	// ApplyResult lists the effects of the apply phase.
	ApplyResult *action.ApplyResult
	// Err is the failure, if any.
	Err error
}

// Orchestrator wires the voting loop to persistence, events, and the
// action executor.
type Orchestrator struct {
	store      *store.Store
	bus        *events.Bus
	executor   *action.Executor
	runner     *command.Runner
	paraphrase vote.Prompter
	accountant *usage.Accountant
	llmLog     *logging.LLMLogger
}

// New creates an Orchestrator. paraphrase, accountant, and llmLog may be nil.
func New(st *store.Store, bus *events.Bus, exec *action.Executor, runner *command.Runner,
	paraphrase vote.Prompter, accountant *usage.Accountant, llmLog *logging.LLMLogger) *Orchestrator {
	return &Orchestrator{
		store:      st,
		bus:        bus,
		executor:   exec,
		runner:     runner,
		paraphrase: paraphrase,
		accountant: accountant,
		llmLog:     llmLog,
	}
}

// RunSubtask executes one subtask: emits step-start, samples to consensus,
// persists every candidate, applies the winner, and runs the subtask's
// command if one is declared. Events for the step are strictly ordered
// step-start, then vote-summary, then step-completed or step-error.
func (o *Orchestrator) RunSubtask(ctx context.Context, task *Task, sub *models.Subtask) *StepResult {
	o.emit(task, sub, models.EventStepStart, map[string]any{
		"intent":     sub.Intent,
		"apply_type": string(sub.Apply.Type),
	})

	prompt := BuildPrompt(task, sub)

	if task.RunID == "" {
		runID, err := o.store.CreateRun(task.ProjectID, task.FeatureID, task.Title)
		if err != nil {
			return o.fail(task, sub, "", fmt.Errorf("create run snapshot: %w", err))
		}
		task.RunID = runID
	}
	stepID, err := o.store.CreateStep(task.RunID, sub.ID, prompt, task.Voting)
	if err != nil {
		return o.fail(task, sub, "", fmt.Errorf("create step snapshot: %w", err))
	}

	cfg := task.Voting
	cfg.Rules = task.Rules
	cfg.ExpectContent = expectsContent(sub.Apply.Type)

	engine := vote.New(task.Executor, o.paraphrase, o.usageFunc(task))
	res, err := engine.Run(ctx, prompt, cfg)
	if err != nil {
		return o.fail(task, sub, stepID, fmt.Errorf("voting: %w", err))
	}

	if verr := o.store.RecordVotes(stepID, res.Candidates, res.Winner, res.HasWinner); verr != nil {
		return o.fail(task, sub, stepID, fmt.Errorf("persist candidates: %w", verr))
	}

	o.emitVoteSummary(task, sub, cfg, res)

	if !res.HasWinner {
		return o.fail(task, sub, stepID, fmt.Errorf("no winner after %d samples", res.Samples))
	}

	applyRes, err := o.executor.Apply(ctx, sub, res.Winner)
	o.recordActions(stepID, applyRes)
	if err != nil {
		sr := o.fail(task, sub, stepID, fmt.Errorf("apply: %w", err))
		sr.Winner = res.Winner
		sr.LeadBy = res.LeadBy
		sr.ApplyResult = applyRes
		return sr
	}

	if sub.Command != "" {
		if err := o.runStepCommand(ctx, task, sub); err != nil {
			sr := o.fail(task, sub, stepID, err)
			sr.Winner = res.Winner
			sr.LeadBy = res.LeadBy
			sr.Applied = true
			sr.ApplyResult = applyRes
			return sr
		}
	}

	if err := o.store.FinishStep(stepID, "completed", ""); err != nil {
		return o.fail(task, sub, stepID, fmt.Errorf("finish step: %w", err))
	}
	o.emit(task, sub, models.EventStepCompleted, map[string]any{
		"winner_preview": preview(res.Winner),
		"lead_by":        res.LeadBy,
	})

	return &StepResult{
		Winner:      res.Winner,
		LeadBy:      res.LeadBy,
		Applied:     true,
		ApplyResult: applyRes,
	}
}

func (o *Orchestrator) usageFunc(task *Task) vote.UsageFunc {
	return func(model string, u *models.TokenUsage, prompt, output string) {
		if o.accountant != nil {
			// Accounting failures must not abort the voting loop.
			_ = o.accountant.Record(task.ProjectID, models.RoleVoter, model, prompt, output, u)
		}
		if o.llmLog != nil {
			var in, out int64
			if u != nil {
				in, out = u.InputTokens, u.OutputTokens
			}
			o.llmLog.Interaction(task.ProjectID, string(models.RoleVoter), model, prompt, output, in, out)
		}
	}
}

func (o *Orchestrator) runStepCommand(ctx context.Context, task *Task, sub *models.Subtask) error {
	if o.runner == nil {
		return fmt.Errorf("step command declared but no runner attached")
	}
	res, err := o.runner.Run(ctx, command.Request{
		Cmd:       sub.Command,
		ProjectID: task.ProjectID,
		OnChunk: func(stream, chunk string) {
			o.emit(task, sub, models.EventCommandOutput, map[string]any{
				"stream": stream,
				"chunk":  chunk,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("run step command: %w", err)
	}
	switch res.Status {
	case command.StatusBlocked:
		return fmt.Errorf("step command blocked: %s", sub.Command)
	case command.StatusNeedsApproval:
		return fmt.Errorf("step command needs approval: %s", res.ApprovalID)
	}
	if res.Err != "" {
		return fmt.Errorf("step command failed: %s", res.Err)
	}
	return nil
}

func (o *Orchestrator) emitVoteSummary(task *Task, sub *models.Subtask, cfg vote.Config, res *models.VoteResult) {
	winnerVotes := 0
	if res.HasWinner {
		winnerVotes = vote.Histogram(res)[res.Winner]
	}
	tempHist := map[string]int{}
	for temp, n := range vote.TemperatureHistogram(res) {
		tempHist[fmt.Sprintf("%.1f", temp)] = n
	}
	o.emit(task, sub, models.EventVoteSummary, map[string]any{
		"samples":        res.Samples,
		"unique_outputs": len(vote.Histogram(res)),
		"k":              cfg.K,
		"lead_by":        res.LeadBy,
		"winner_votes":   winnerVotes,
		"margin_met":     res.AchievedMargin,
		"temperatures":   tempHist,
		"top_outputs":    previews(vote.TopOutputs(res, 3)),
		"winner_preview": preview(res.Winner),
	})
}

func (o *Orchestrator) fail(task *Task, sub *models.Subtask, stepID string, err error) *StepResult {
	if stepID != "" {
		// Best effort: the step row may already be finished.
		_ = o.store.FinishStep(stepID, "failed", err.Error())
	}
	o.emit(task, sub, models.EventStepError, map[string]any{"error": err.Error()})
	return &StepResult{Err: err}
}

// emit persists the event and publishes it on the bus, in that order, so the
// audit log is never behind the live stream.
func (o *Orchestrator) emit(task *Task, sub *models.Subtask, typ models.EventType, payload map[string]any) {
	e := models.Event{
		ProjectID: task.ProjectID,
		FeatureID: task.FeatureID,
		SubtaskID: sub.ID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	// Event persistence is best effort; execution must not stall on it.
	_ = o.store.RecordEvent(&e)
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func (o *Orchestrator) recordActions(stepID string, res *action.ApplyResult) {
	if res == nil {
		return
	}
	for _, a := range res.Completed {
		_ = o.store.RecordAction(stepID, a.Kind, a.Path, true, a.Detail)
	}
}

// expectsContent reports whether the apply type expects raw file content,
// which enables the shell-instruction red flags.
func expectsContent(t models.ApplyType) bool {
	switch t {
	case models.ApplyWriteFile, models.ApplyAppendFile:
		return true
	default:
		return false
	}
}

func preview(s string) string {
	if len(s) > winnerPreviewLen {
		return s[:winnerPreviewLen] + "..."
	}
	return s
}

func previews(outputs []string) []string {
	out := make([]string, len(outputs))
	for i, s := range outputs {
		out[i] = preview(s)
	}
	return out
}

// BuildPrompt assembles the subtask prompt: core conventions, the goal and
// intent, the relevant state slice, and an apply-type-specific instruction
// block.
func BuildPrompt(task *Task, sub *models.Subtask) string {
	var b strings.Builder

	b.WriteString("You are implementing part of a software project.\n")
	b.WriteString("Match the existing style of the codebase. Do not invent libraries that are not already in use. ")
	b.WriteString("Output file content, not shell instructions.\n\n")

	if task.Goal != "" {
		b.WriteString("Goal: " + task.Goal + "\n\n")
	}
	b.WriteString("Current step: " + sub.Intent + "\n")
	if sub.Apply.Path != "" {
		b.WriteString("Target file: " + sub.Apply.Path + "\n")
	}
	b.WriteString("\n")

	if task.StateSlice != "" {
		b.WriteString("Relevant context:\n" + task.StateSlice + "\n\n")
	}

	b.WriteString(applyInstructions(sub.Apply.Type))
	return b.String()
}

func applyInstructions(t models.ApplyType) string {
	switch t {
	case models.ApplyWriteFile, models.ApplyWriteFileFromState:
		return "Output the complete content of the file. No explanations, no markdown fences."
	case models.ApplyAppendFile:
		return "Output only the content to append to the file. No explanations, no markdown fences."
	case models.ApplyEditFile:
		return `Output a JSON object {"old_string": "...", "new_string": "..."}. ` +
			"old_string must match the file exactly and include at least 3 lines of surrounding context."
	case models.ApplyStatePatch:
		return "Output the value to store, or a JSON object whose keys will be merged into the shared state."
	default:
		return `Output a JSON object {"actions": [...]} where each action has a "kind" of ` +
			`write_file, append_file, apply_patch, replace_range, run_cmd, or request_info.`
	}
}
