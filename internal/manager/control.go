package manager

import (
	"context"
	"fmt"

	"github.com/tomgoeck/Ultracode-sub000/internal/orchestrator"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// RequestPause asks a running feature to stop at its next subtask boundary.
// The in-flight subtask always finishes first.
func (m *Manager) RequestPause(featureID string) error {
	f, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	if f.Status != models.FeatureStatusRunning {
		return fmt.Errorf("%w: pause needs a running feature, got %s", ErrWrongStatus, f.Status)
	}

	m.mu.Lock()
	m.pauseRequests[featureID] = true
	m.mu.Unlock()

	m.emit(f.ProjectID, featureID, "", models.EventFeaturePauseRequested, nil)
	return nil
}

// Abort stops a running feature at the next subtask boundary. The in-flight
// subtask is never force-killed; abort differs from pause only in the
// recorded event.
func (m *Manager) Abort(featureID string) error {
	f, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	if f.Status != models.FeatureStatusRunning {
		return fmt.Errorf("%w: abort needs a running feature, got %s", ErrWrongStatus, f.Status)
	}

	m.mu.Lock()
	m.aborted[featureID] = true
	m.mu.Unlock()
	return nil
}

// Resume restarts a paused feature. Completed subtasks are skipped by the
// execution loop, so work picks up where the pause landed.
func (m *Manager) Resume(ctx context.Context, featureID string) error {
	f, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	if f.Status != models.FeatureStatusPaused {
		return fmt.Errorf("%w: resume needs a paused feature, got %s", ErrWrongStatus, f.Status)
	}
	return m.ExecuteFeature(ctx, featureID)
}

// Retry resets a failed feature back to pending. Completed subtasks keep
// their status; only incomplete ones are reset, so a retry does not redo
// finished work.
func (m *Manager) Retry(featureID string) error {
	f, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	if f.Status != models.FeatureStatusFailed {
		return fmt.Errorf("%w: retry needs a failed feature, got %s", ErrWrongStatus, f.Status)
	}

	if err := m.store.ResetIncompleteSubtasks(featureID); err != nil {
		return err
	}
	f.Status = models.FeatureStatusPending
	f.Error = ""
	f.TechnicalSummary = ""
	return m.store.UpdateFeature(f)
}

// RetrySubtask resets one subtask to pending and executes only it, leaving
// its siblings and the feature status untouched on success. Rejected while
// the owning feature is executing.
func (m *Manager) RetrySubtask(ctx context.Context, subtaskID string) error {
	sub, err := m.store.GetSubtask(subtaskID)
	if err != nil {
		return err
	}
	feature, err := m.store.GetFeature(sub.FeatureID)
	if err != nil {
		return err
	}
	project, err := m.store.GetProject(feature.ProjectID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	_, busy := m.running[sub.FeatureID]
	m.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: feature %s is executing", ErrAlreadyRunning, sub.FeatureID)
	}

	if !project.Models.Bound() {
		return fmt.Errorf("project %s has incomplete model bindings", project.ID)
	}
	execGen, _, err := m.bindModels(project)
	if err != nil {
		return err
	}
	runner, err := m.newRunner(project)
	if err != nil {
		return err
	}

	if err := m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusRunning, "", ""); err != nil {
		return err
	}
	m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskStarted, map[string]any{"intent": sub.Intent})

	task := &orchestrator.Task{
		Title:         feature.Name,
		Goal:          feature.Description,
		ProjectID:     project.ID,
		FeatureID:     feature.ID,
		Executor:      execGen,
		ExecutorModel: project.Models.Executor,
		Voting:        m.voting,
		Rules:         m.rules,
	}
	res := runner.RunSubtask(ctx, task, sub)
	if res.Err != nil {
		_ = m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusFailed, "", res.Err.Error())
		m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskFailed, map[string]any{"error": res.Err.Error()})
		return res.Err
	}

	if err := m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusCompleted, res.Winner, ""); err != nil {
		return err
	}
	m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskCompleted, nil)
	return nil
}

// MarkAsCompleted promotes a feature out of human_testing once a person has
// verified it. This is the only path from human_testing to completed.
func (m *Manager) MarkAsCompleted(featureID string) error {
	f, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	if f.Status != models.FeatureStatusHumanTesting {
		return fmt.Errorf("%w: mark-completed needs human_testing, got %s", ErrWrongStatus, f.Status)
	}

	if err := m.store.SetFeatureStatus(featureID, models.FeatureStatusCompleted, ""); err != nil {
		return err
	}
	m.emit(f.ProjectID, featureID, "", models.EventFeatureCompleted, map[string]any{"promoted": true})
	return nil
}
