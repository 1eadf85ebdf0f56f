package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// setupTestStore creates a new temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// createTestProject inserts a project with a unique folder path.
func createTestProject(t *testing.T, s *Store) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:       "demo",
		FolderPath: filepath.Join(t.TempDir(), "demo"),
		Models: models.ModelBindings{
			Planner:  "anthropic:claude-haiku-4-5",
			Executor: "anthropic:claude-sonnet-4-5",
		},
		Status: models.ProjectStatusActive,
	}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return p
}

func createTestFeature(t *testing.T, s *Store, projectID, name string, prio models.Priority, deps []string) *models.Feature {
	t.Helper()
	f := &models.Feature{
		ProjectID: projectID,
		Name:      name,
		Priority:  prio,
		DependsOn: deps,
	}
	if err := s.CreateFeature(f); err != nil {
		t.Fatalf("CreateFeature(%s) failed: %v", name, err)
	}
	return f
}

func TestProjectRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	got, err := s.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "demo" {
		t.Errorf("Name = %q, want %q", got.Name, "demo")
	}
	if got.Models.Executor != "anthropic:claude-sonnet-4-5" {
		t.Errorf("Models.Executor = %q", got.Models.Executor)
	}
	if got.Status != models.ProjectStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetProject("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFeatureOrdering_PriorityThenOrderIndex(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	fb := createTestFeature(t, s, p.ID, "b-feature", models.PriorityB, nil)
	fa2 := createTestFeature(t, s, p.ID, "a-second", models.PriorityA, nil)
	fa2.OrderIndex = 2
	if err := s.UpdateFeature(fa2); err != nil {
		t.Fatalf("UpdateFeature failed: %v", err)
	}
	fa1 := createTestFeature(t, s, p.ID, "a-first", models.PriorityA, nil)
	fa1.OrderIndex = 1
	if err := s.UpdateFeature(fa1); err != nil {
		t.Fatalf("UpdateFeature failed: %v", err)
	}

	got, err := s.GetFeaturesByProject(p.ID)
	if err != nil {
		t.Fatalf("GetFeaturesByProject failed: %v", err)
	}
	wantOrder := []string{fa1.ID, fa2.ID, fb.ID}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d features, want %d", len(got), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("position %d: got %s (%s), want %s", i, got[i].ID, got[i].Name, want)
		}
	}
}

func TestValidateDependencies_SelfLoop(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)

	err := s.ValidateDependencies(p.ID, f.ID, []string{f.ID})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestValidateDependencies_CycleRejected(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	f1 := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	f2 := createTestFeature(t, s, p.ID, "f2", models.PriorityA, []string{f1.ID})

	// f1 -> f2 would close the cycle f1 -> f2 -> f1.
	err := s.ValidateDependencies(p.ID, f1.ID, []string{f2.ID})
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestValidateDependencies_TransitiveCycleRejected(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	f1 := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	f2 := createTestFeature(t, s, p.ID, "f2", models.PriorityA, []string{f1.ID})
	f3 := createTestFeature(t, s, p.ID, "f3", models.PriorityA, []string{f2.ID})

	// f1 -> f3 reaches f1 through f3 -> f2 -> f1.
	err := s.ValidateDependencies(p.ID, f1.ID, []string{f3.ID})
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}

	// An unrelated edge is fine.
	f4 := createTestFeature(t, s, p.ID, "f4", models.PriorityA, nil)
	if err := s.ValidateDependencies(p.ID, f4.ID, []string{f3.ID}); err != nil {
		t.Errorf("valid dependency rejected: %v", err)
	}
}

func TestAreDependenciesMet(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	f1 := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	f2 := createTestFeature(t, s, p.ID, "f2", models.PriorityA, []string{f1.ID})

	met, err := s.AreDependenciesMet(f2.ID)
	if err != nil {
		t.Fatalf("AreDependenciesMet failed: %v", err)
	}
	if met {
		t.Error("dependencies should be unmet while f1 is pending")
	}

	if err := s.SetFeatureStatus(f1.ID, models.FeatureStatusCompleted, ""); err != nil {
		t.Fatalf("SetFeatureStatus failed: %v", err)
	}
	met, err = s.AreDependenciesMet(f2.ID)
	if err != nil {
		t.Fatalf("AreDependenciesMet failed: %v", err)
	}
	if !met {
		t.Error("dependencies should be met after f1 completed")
	}
}

func TestResetRunningFeatures(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	f1 := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	f2 := createTestFeature(t, s, p.ID, "f2", models.PriorityA, nil)
	if err := s.SetFeatureStatus(f1.ID, models.FeatureStatusRunning, ""); err != nil {
		t.Fatalf("SetFeatureStatus failed: %v", err)
	}

	ids, err := s.ResetRunningFeatures(models.FeatureStatusPaused)
	if err != nil {
		t.Fatalf("ResetRunningFeatures failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != f1.ID {
		t.Errorf("reset ids = %v, want [%s]", ids, f1.ID)
	}

	got, _ := s.GetFeature(f1.ID)
	if got.Status != models.FeatureStatusPaused {
		t.Errorf("f1 status = %q, want paused", got.Status)
	}
	got2, _ := s.GetFeature(f2.ID)
	if got2.Status != models.FeatureStatusPending {
		t.Errorf("f2 status = %q, want pending", got2.Status)
	}
}

func TestSubtaskCreationOrder(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)

	names := []string{"first", "second", "third"}
	for _, n := range names {
		st := &models.Subtask{
			FeatureID: f.ID,
			Intent:    n,
			Apply:     models.Apply{Type: models.ApplyWriteFile, Path: n + ".go"},
		}
		if err := s.CreateSubtask(st); err != nil {
			t.Fatalf("CreateSubtask(%s) failed: %v", n, err)
		}
	}

	subtasks, err := s.GetSubtasksByFeature(f.ID)
	if err != nil {
		t.Fatalf("GetSubtasksByFeature failed: %v", err)
	}
	if len(subtasks) != 3 {
		t.Fatalf("got %d subtasks, want 3", len(subtasks))
	}
	for i, n := range names {
		if subtasks[i].Intent != n {
			t.Errorf("position %d: intent = %q, want %q", i, subtasks[i].Intent, n)
		}
	}

	next, err := s.GetNextPendingSubtask(f.ID)
	if err != nil {
		t.Fatalf("GetNextPendingSubtask failed: %v", err)
	}
	if next.Intent != "first" {
		t.Errorf("next pending = %q, want first", next.Intent)
	}

	if err := s.SetSubtaskStatus(next.ID, models.SubtaskStatusCompleted, "{}", ""); err != nil {
		t.Fatalf("SetSubtaskStatus failed: %v", err)
	}
	next, err = s.GetNextPendingSubtask(f.ID)
	if err != nil {
		t.Fatalf("GetNextPendingSubtask failed: %v", err)
	}
	if next.Intent != "second" {
		t.Errorf("next pending = %q, want second", next.Intent)
	}
}

func TestResetIncompleteSubtasks_PreservesCompleted(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		st := &models.Subtask{FeatureID: f.ID, Intent: "s", Apply: models.Apply{Type: models.ApplyWriteFile, Path: "x.go"}}
		if err := s.CreateSubtask(st); err != nil {
			t.Fatalf("CreateSubtask failed: %v", err)
		}
		ids = append(ids, st.ID)
	}
	for _, id := range ids[:3] {
		if err := s.SetSubtaskStatus(id, models.SubtaskStatusCompleted, "{}", ""); err != nil {
			t.Fatalf("SetSubtaskStatus failed: %v", err)
		}
	}
	if err := s.SetSubtaskStatus(ids[3], models.SubtaskStatusFailed, "", "boom"); err != nil {
		t.Fatalf("SetSubtaskStatus failed: %v", err)
	}

	if err := s.ResetIncompleteSubtasks(f.ID); err != nil {
		t.Fatalf("ResetIncompleteSubtasks failed: %v", err)
	}

	subtasks, _ := s.GetSubtasksByFeature(f.ID)
	for i, st := range subtasks {
		want := models.SubtaskStatusPending
		if i < 3 {
			want = models.SubtaskStatusCompleted
		}
		if st.Status != want {
			t.Errorf("subtask %d status = %q, want %q", i, st.Status, want)
		}
	}
	if subtasks[3].Error != "" {
		t.Errorf("failed subtask error not cleared: %q", subtasks[3].Error)
	}
}

func TestReorderFeatures_Atomic(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f1 := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	f2 := createTestFeature(t, s, p.ID, "f2", models.PriorityA, nil)

	// Unknown id must roll back the whole mapping.
	err := s.ReorderFeatures(p.ID, map[string]int{f1.ID: 5, "unknown": 6})
	if err == nil {
		t.Fatal("expected reorder with unknown id to fail")
	}
	got, _ := s.GetFeature(f1.ID)
	if got.OrderIndex != 0 {
		t.Errorf("order_index = %d after failed reorder, want 0", got.OrderIndex)
	}

	if err := s.ReorderFeatures(p.ID, map[string]int{f1.ID: 2, f2.ID: 1}); err != nil {
		t.Fatalf("ReorderFeatures failed: %v", err)
	}
	features, _ := s.GetFeaturesByProject(p.ID)
	if features[0].ID != f2.ID {
		t.Errorf("first feature = %s, want %s", features[0].ID, f2.ID)
	}
}

func TestRecordEvent_MonotonicIDs(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	var last int64
	for i := 0; i < 3; i++ {
		e := &models.Event{ProjectID: p.ID, Type: models.EventFeatureStarted}
		if err := s.RecordEvent(e); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
		if e.ID <= last {
			t.Errorf("event id %d not monotonic (last %d)", e.ID, last)
		}
		last = e.ID
	}

	events, err := s.GetEventsByProject(p.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetEventsByProject failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestWizardMessages_OrderedByInsertion(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	turns := []struct{ role, content string }{
		{"user", "build a todo app"},
		{"assistant", "what storage do you want?"},
		{"user", "sqlite"},
	}
	for _, turn := range turns {
		if err := s.RecordWizardMessage(p.ID, turn.role, turn.content); err != nil {
			t.Fatalf("RecordWizardMessage failed: %v", err)
		}
	}

	msgs, err := s.ListWizardMessages(p.ID)
	if err != nil {
		t.Fatalf("ListWizardMessages failed: %v", err)
	}
	if len(msgs) != len(turns) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(turns))
	}
	for i, m := range msgs {
		if m.Role != turns[i].role || m.Content != turns[i].content {
			t.Errorf("message %d = %s %q, want %s %q", i, m.Role, m.Content, turns[i].role, turns[i].content)
		}
		if m.ProjectID != p.ID {
			t.Errorf("message %d project = %s, want %s", i, m.ProjectID, p.ID)
		}
	}
}

func TestRecordModelUsage_Monotone(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)

	u := models.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}
	if err := s.RecordModelUsage(p.ID, "anthropic:claude-haiku-4-5", u, 0.01); err != nil {
		t.Fatalf("RecordModelUsage failed: %v", err)
	}
	if err := s.RecordModelUsage(p.ID, "anthropic:claude-haiku-4-5", u, 0.01); err != nil {
		t.Fatalf("RecordModelUsage failed: %v", err)
	}

	agg, err := s.GetModelUsage(p.ID, "anthropic:claude-haiku-4-5")
	if err != nil {
		t.Fatalf("GetModelUsage failed: %v", err)
	}
	if agg.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", agg.TotalTokens)
	}
	if agg.Calls != 2 {
		t.Errorf("Calls = %d, want 2", agg.Calls)
	}
}

func TestPendingCommandQueue(t *testing.T) {
	s := setupTestStore(t)

	pc := &PendingCommand{ID: "apr-1", Command: "rm -rf build", Severity: "high"}
	if err := s.EnqueuePendingCommand(pc); err != nil {
		t.Fatalf("EnqueuePendingCommand failed: %v", err)
	}

	got, err := s.GetPendingCommand("apr-1")
	if err != nil {
		t.Fatalf("GetPendingCommand failed: %v", err)
	}
	if got.Command != "rm -rf build" {
		t.Errorf("Command = %q", got.Command)
	}

	if err := s.ResolvePendingCommand("apr-1"); err != nil {
		t.Fatalf("ResolvePendingCommand failed: %v", err)
	}
	if _, err := s.GetPendingCommand("apr-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after resolve, got %v", err)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	st := &models.Subtask{FeatureID: f.ID, Intent: "s", Apply: models.Apply{Type: models.ApplyWriteFile, Path: "x.go"}}
	if err := s.CreateSubtask(st); err != nil {
		t.Fatalf("CreateSubtask failed: %v", err)
	}
	if err := s.RecordEvent(&models.Event{ProjectID: p.ID, Type: models.EventFeatureStarted}); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	if err := s.DeleteProject(p.ID, false); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}

	if _, err := s.GetFeature(f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("feature should cascade-delete, got %v", err)
	}
	if _, err := s.GetSubtask(st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("subtask should cascade-delete, got %v", err)
	}
	events, _ := s.GetEventsByProject(p.ID, 0, 0)
	if len(events) != 0 {
		t.Errorf("events should be deleted, got %d", len(events))
	}
}

func TestDeleteProject_CascadesOnEveryPooledConnection(t *testing.T) {
	s := setupTestStore(t)
	p := createTestProject(t, s)
	f := createTestFeature(t, s, p.ID, "f1", models.PriorityA, nil)
	st := &models.Subtask{FeatureID: f.ID, Intent: "s", Apply: models.Apply{Type: models.ApplyWriteFile, Path: "x.go"}}
	if err := s.CreateSubtask(st); err != nil {
		t.Fatalf("CreateSubtask failed: %v", err)
	}

	// Hold a Rows open so the delete must run on a second pooled
	// connection, which needs foreign keys enabled too.
	rows, err := s.Query(`SELECT id FROM projects`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	if err := s.DeleteProject(p.ID, false); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	rows.Close()

	features, err := s.GetFeaturesByProject(p.ID)
	if err != nil {
		t.Fatalf("GetFeaturesByProject failed: %v", err)
	}
	if len(features) != 0 {
		t.Errorf("cascade left %d orphan feature(s)", len(features))
	}
	if _, err := s.GetSubtask(st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("subtask should cascade-delete, got %v", err)
	}
}

func TestUnmarshalStrings_Defensive(t *testing.T) {
	if got := unmarshalStrings("not json"); got != nil {
		t.Errorf("malformed blob should yield nil, got %v", got)
	}
	if got := unmarshalStrings(""); got != nil {
		t.Errorf("empty blob should yield nil, got %v", got)
	}
	got := unmarshalStrings(`["a","b"]`)
	if len(got) != 2 || got[0] != "a" {
		t.Errorf("unmarshalStrings = %v", got)
	}
}
