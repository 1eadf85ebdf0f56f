package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomgoeck/Ultracode-sub000/internal/action"
	"github.com/tomgoeck/Ultracode-sub000/internal/command"
	"github.com/tomgoeck/Ultracode-sub000/internal/events"
	"github.com/tomgoeck/Ultracode-sub000/internal/guard"
	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/store"
	"github.com/tomgoeck/Ultracode-sub000/internal/vote"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

type fixture struct {
	store *store.Store
	guard *guard.Guard
	bus   *events.Bus
	orch  *Orchestrator
	task  *Task
	sub   *models.Subtask
}

func setup(t *testing.T, gen provider.Generator) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	project := &models.Project{Name: "demo", FolderPath: t.TempDir()}
	if err := st.CreateProject(project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	feature := &models.Feature{ProjectID: project.ID, Name: "login", Priority: models.PriorityA}
	if err := st.CreateFeature(feature); err != nil {
		t.Fatalf("CreateFeature failed: %v", err)
	}
	sub := &models.Subtask{
		FeatureID: feature.ID,
		Intent:    "write the login handler",
		Apply:     models.Apply{Type: models.ApplyWriteFile, Path: "src/login.js"},
	}
	if err := st.CreateSubtask(sub); err != nil {
		t.Fatalf("CreateSubtask failed: %v", err)
	}

	g, err := guard.New(project.FolderPath)
	if err != nil {
		t.Fatalf("guard.New failed: %v", err)
	}
	runner := command.NewRunner(nil, command.ModeAuto, st)
	exec := action.New(g, runner)
	bus := events.NewBus()

	orch := New(st, bus, exec, runner, nil, nil, nil)
	task := &Task{
		Title:     "run login",
		Goal:      "add login support",
		ProjectID: project.ID,
		FeatureID: feature.ID,
		Executor:  gen,
		Voting:    vote.Config{K: 1, InitialSamples: 1, MaxSamples: 3, Temperature: -1},
	}
	return &fixture{store: st, guard: g, bus: bus, orch: orch, task: task, sub: sub}
}

func TestRunSubtask_AppliesWinner(t *testing.T) {
	gen := provider.NewStatic("m", "console.log('login')\n")
	f := setup(t, gen)

	res := f.orch.RunSubtask(context.Background(), f.task, f.sub)
	if res.Err != nil {
		t.Fatalf("RunSubtask failed: %v", res.Err)
	}
	if !res.Applied || res.Winner != "console.log('login')\n" {
		t.Errorf("result = %+v", res)
	}

	got, err := f.guard.ReadFile("src/login.js")
	if err != nil || got != "console.log('login')\n" {
		t.Errorf("file content = %q (%v)", got, err)
	}
	if f.task.RunID == "" {
		t.Error("run snapshot not created")
	}
}

func TestRunSubtask_EventOrdering(t *testing.T) {
	gen := provider.NewStatic("m", "content\n")
	f := setup(t, gen)
	sub := f.bus.Subscribe()
	defer sub.Cancel()

	f.orch.RunSubtask(context.Background(), f.task, f.sub)

	var types []models.EventType
	for len(sub.C) > 0 {
		types = append(types, (<-sub.C).Type)
	}
	want := []models.EventType{
		models.EventStepStart,
		models.EventVoteSummary,
		models.EventStepCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRunSubtask_VoteSummaryPayload(t *testing.T) {
	gen := provider.NewStatic("m", "A\n", "A\n")
	f := setup(t, gen)
	f.task.Voting = vote.Config{K: 2, InitialSamples: 2, MaxSamples: 4, Temperature: -1}
	sub := f.bus.Subscribe()
	defer sub.Cancel()

	f.orch.RunSubtask(context.Background(), f.task, f.sub)

	var summary *models.Event
	for len(sub.C) > 0 {
		e := <-sub.C
		if e.Type == models.EventVoteSummary {
			summary = &e
		}
	}
	if summary == nil {
		t.Fatal("no vote-summary event")
	}
	if summary.Payload["samples"] != 2 {
		t.Errorf("samples = %v", summary.Payload["samples"])
	}
	if summary.Payload["margin_met"] != true {
		t.Errorf("margin_met = %v", summary.Payload["margin_met"])
	}
	if summary.Payload["winner_votes"] != 2 {
		t.Errorf("winner_votes = %v", summary.Payload["winner_votes"])
	}
}

func TestRunSubtask_NoWinnerFails(t *testing.T) {
	// Everything the model says looks like shell instructions.
	gen := provider.NewStatic("m", "mkdir x\ncd x\n", "mkdir y\ncd y\n", "mkdir z\ncd z\n")
	f := setup(t, gen)
	sub := f.bus.Subscribe()
	defer sub.Cancel()

	res := f.orch.RunSubtask(context.Background(), f.task, f.sub)
	if res.Err == nil {
		t.Fatal("expected failure without winner")
	}
	if res.Applied {
		t.Error("nothing should be applied")
	}

	var last models.EventType
	for len(sub.C) > 0 {
		last = (<-sub.C).Type
	}
	if last != models.EventStepError {
		t.Errorf("last event = %s, want step-error", last)
	}
}

func TestRunSubtask_StepCommandStreams(t *testing.T) {
	gen := provider.NewStatic("m", "content\n")
	f := setup(t, gen)
	f.sub.Command = "echo build-ok"
	sub := f.bus.Subscribe()
	defer sub.Cancel()

	res := f.orch.RunSubtask(context.Background(), f.task, f.sub)
	if res.Err != nil {
		t.Fatalf("RunSubtask failed: %v", res.Err)
	}

	var sawOutput bool
	for len(sub.C) > 0 {
		e := <-sub.C
		if e.Type == models.EventCommandOutput {
			if chunk, _ := e.Payload["chunk"].(string); strings.Contains(chunk, "build-ok") {
				sawOutput = true
			}
		}
	}
	if !sawOutput {
		t.Error("command output not streamed")
	}
}

func TestRunSubtask_FailingCommandFailsStep(t *testing.T) {
	gen := provider.NewStatic("m", "content\n")
	f := setup(t, gen)
	f.sub.Command = "exit 7"

	res := f.orch.RunSubtask(context.Background(), f.task, f.sub)
	if res.Err == nil || !strings.Contains(res.Err.Error(), "exit 7") {
		t.Errorf("err = %v", res.Err)
	}
	// The winner was applied before the command ran.
	if !res.Applied {
		t.Error("apply happened before the command; Applied should be true")
	}
}

func TestRunSubtask_PersistsCandidates(t *testing.T) {
	gen := provider.NewStatic("m", "A\n", "B\n", "A\n", "A\n")
	f := setup(t, gen)
	f.task.Voting = vote.Config{K: 2, InitialSamples: 2, MaxSamples: 6, Temperature: -1}

	res := f.orch.RunSubtask(context.Background(), f.task, f.sub)
	if res.Err != nil {
		t.Fatalf("RunSubtask failed: %v", res.Err)
	}

	var n int
	row := f.store.QueryRow(`SELECT COUNT(*) FROM votes`)
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if n != 4 {
		t.Errorf("votes persisted = %d, want 4", n)
	}

	var winners int
	row = f.store.QueryRow(`SELECT COUNT(*) FROM votes WHERE is_winner = 1`)
	if err := row.Scan(&winners); err != nil {
		t.Fatalf("count winners: %v", err)
	}
	if winners != 3 {
		t.Errorf("winner rows = %d, want 3 (every A sample)", winners)
	}
}

func TestBuildPrompt_InstructionBlocks(t *testing.T) {
	task := &Task{Goal: "the goal"}

	write := BuildPrompt(task, &models.Subtask{Intent: "x", Apply: models.Apply{Type: models.ApplyWriteFile, Path: "a.go"}})
	if !strings.Contains(write, "complete content") || !strings.Contains(write, "a.go") {
		t.Errorf("writeFile prompt:\n%s", write)
	}

	edit := BuildPrompt(task, &models.Subtask{Intent: "x", Apply: models.Apply{Type: models.ApplyEditFile}})
	if !strings.Contains(edit, "old_string") {
		t.Errorf("editFile prompt:\n%s", edit)
	}

	actions := BuildPrompt(task, &models.Subtask{Intent: "x"})
	if !strings.Contains(actions, `"actions"`) {
		t.Errorf("actions prompt:\n%s", actions)
	}
}
