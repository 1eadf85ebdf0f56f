// Package manager owns the feature lifecycle: readiness, selection,
// execution, pause/resume/retry, and crash recovery. It is the only
// component that schedules execution.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomgoeck/Ultracode-sub000/internal/events"
	"github.com/tomgoeck/Ultracode-sub000/internal/orchestrator"
	"github.com/tomgoeck/Ultracode-sub000/internal/planner"
	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/redflag"
	"github.com/tomgoeck/Ultracode-sub000/internal/store"
	"github.com/tomgoeck/Ultracode-sub000/internal/vote"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// ErrAlreadyRunning is returned when a feature in the running map is
// started again.
var ErrAlreadyRunning = errors.New("feature already running")

// ErrNotRunnable is returned when no feature is ready for execution.
var ErrNotRunnable = errors.New("no runnable feature")

// ErrWrongStatus is returned for lifecycle operations from an invalid state.
var ErrWrongStatus = errors.New("operation not valid in current status")

// SubtaskRunner executes one subtask. Implemented by the orchestrator.
type SubtaskRunner interface {
	RunSubtask(ctx context.Context, task *orchestrator.Task, sub *models.Subtask) *orchestrator.StepResult
}

// FeaturePlanner decomposes a feature into subtasks.
type FeaturePlanner interface {
	Plan(ctx context.Context, req planner.Request) ([]*models.Subtask, error)
}

// CommitHook is an optional collaborator invoked after a feature finishes.
type CommitHook interface {
	Commit(ctx context.Context, project *models.Project, feature *models.Feature, summary string) error
}

// RunnerFactory builds the subtask runner for a project's workspace.
type RunnerFactory func(project *models.Project) (SubtaskRunner, error)

// PlannerFactory builds the planner for a project's workspace.
type PlannerFactory func(project *models.Project, gen provider.Generator) (FeaturePlanner, error)

// Manager schedules and executes features.
type Manager struct {
	store      *store.Store
	bus        *events.Bus
	registry   *provider.Registry
	newRunner  RunnerFactory
	newPlanner PlannerFactory
	voting     vote.Config
	rules      []redflag.Rule
	commit     CommitHook

	mu            sync.Mutex
	running       map[string]context.CancelFunc
	pauseRequests map[string]bool
	aborted       map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithVotingDefaults sets the consensus parameters used for every subtask.
func WithVotingDefaults(cfg vote.Config) Option {
	return func(m *Manager) { m.voting = cfg }
}

// WithRedFlagRules sets the red-flag rules applied to every sample.
func WithRedFlagRules(rules []redflag.Rule) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithCommitHook attaches a post-feature commit collaborator.
func WithCommitHook(hook CommitHook) Option {
	return func(m *Manager) { m.commit = hook }
}

// New creates a Manager.
func New(st *store.Store, bus *events.Bus, registry *provider.Registry,
	newRunner RunnerFactory, newPlanner PlannerFactory, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		bus:        bus,
		registry:   registry,
		newRunner:  newRunner,
		newPlanner: newPlanner,
		voting:     vote.Config{K: 2, InitialSamples: 3, MaxSamples: 6, Temperature: -1},

		running:       make(map[string]context.CancelFunc),
		pauseRequests: make(map[string]bool),
		aborted:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover resets features stranded in running by a crash back to paused and
// emits a pause event for each. Call once on startup before scheduling.
func (m *Manager) Recover() error {
	ids, err := m.store.ResetRunningFeatures(models.FeatureStatusPaused)
	if err != nil {
		return fmt.Errorf("reset running features: %w", err)
	}
	for _, id := range ids {
		f, err := m.store.GetFeature(id)
		if err != nil {
			continue
		}
		m.emit(f.ProjectID, id, "", models.EventFeaturePaused, map[string]any{"reason": "recovered"})
	}
	return nil
}

// ResolveFeatureID resolves a possibly shortened feature id within a project:
// exact match first, then project-prefixed, then unique suffix match.
func (m *Manager) ResolveFeatureID(projectID, ref string) (string, error) {
	if _, err := m.store.GetFeature(ref); err == nil {
		return ref, nil
	}

	features, err := m.store.GetFeaturesByProject(projectID)
	if err != nil {
		return "", err
	}
	prefixed := projectID + "-" + ref
	var suffixMatches []string
	for _, f := range features {
		if f.ID == prefixed {
			return f.ID, nil
		}
		if strings.HasSuffix(f.ID, ref) {
			suffixMatches = append(suffixMatches, f.ID)
		}
	}
	if len(suffixMatches) == 1 {
		return suffixMatches[0], nil
	}
	if len(suffixMatches) > 1 {
		return "", fmt.Errorf("ambiguous feature id %q (%d matches)", ref, len(suffixMatches))
	}
	return "", fmt.Errorf("feature %q: %w", ref, store.ErrNotFound)
}

// isRunnable reports whether the feature can be started now: pending or
// paused, with every dependency completed or verified.
func (m *Manager) isRunnable(f *models.Feature) (bool, error) {
	if f.Status != models.FeatureStatusPending && f.Status != models.FeatureStatusPaused {
		return false, nil
	}
	return m.store.AreDependenciesMet(f.ID)
}

// GetNextRunnable returns the first runnable feature in (priority, order)
// scan order, or ErrNotRunnable.
func (m *Manager) GetNextRunnable(projectID string) (*models.Feature, error) {
	features, err := m.store.GetFeaturesByProject(projectID)
	if err != nil {
		return nil, err
	}
	sortFeatures(features)
	for _, f := range features {
		ok, err := m.isRunnable(f)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return nil, ErrNotRunnable
}

// ExecuteNextRunnable picks and executes one feature, preferring paused
// features (resume) over fresh pending ones.
func (m *Manager) ExecuteNextRunnable(ctx context.Context, projectID string) (*models.Feature, error) {
	features, err := m.store.GetFeaturesByProject(projectID)
	if err != nil {
		return nil, err
	}
	sortFeatures(features)

	pick := func(status models.FeatureStatus) (*models.Feature, error) {
		for _, f := range features {
			if f.Status != status {
				continue
			}
			ok, err := m.isRunnable(f)
			if err != nil {
				return nil, err
			}
			if ok {
				return f, nil
			}
		}
		return nil, nil
	}

	f, err := pick(models.FeatureStatusPaused)
	if err != nil {
		return nil, err
	}
	if f == nil {
		if f, err = pick(models.FeatureStatusPending); err != nil {
			return nil, err
		}
	}
	if f == nil {
		return nil, ErrNotRunnable
	}
	return f, m.ExecuteFeature(ctx, f.ID)
}

// RunProject executes runnable features one at a time until none remain.
func (m *Manager) RunProject(ctx context.Context, projectID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := m.ExecuteNextRunnable(ctx, projectID)
		if errors.Is(err, ErrNotRunnable) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RunProjects drives several projects concurrently, one worker each.
func (m *Manager) RunProjects(ctx context.Context, projectIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range projectIDs {
		id := id
		g.Go(func() error { return m.RunProject(ctx, id) })
	}
	return g.Wait()
}

// ExecuteFeature runs one feature through planning and all of its subtasks.
// A feature already in the running map cannot be started again.
func (m *Manager) ExecuteFeature(ctx context.Context, featureID string) error {
	feature, err := m.store.GetFeature(featureID)
	if err != nil {
		return err
	}
	project, err := m.store.GetProject(feature.ProjectID)
	if err != nil {
		return err
	}

	if !project.Models.Bound() {
		return fmt.Errorf("project %s has incomplete model bindings", project.ID)
	}
	execGen, planGen, err := m.bindModels(project)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if _, ok := m.running[featureID]; ok {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, featureID)
	}
	m.running[featureID] = cancel
	delete(m.pauseRequests, featureID)
	delete(m.aborted, featureID)
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.running, featureID)
		m.mu.Unlock()
	}()

	return m.executeFeature(ctx, project, feature, execGen, planGen)
}

// bindModels fail-fast resolves the project's model bindings through the
// registry, lazily constructing providers from stored credentials.
func (m *Manager) bindModels(project *models.Project) (execGen, planGen provider.Generator, err error) {
	execGen, err = m.registry.Ensure(project.Models.Executor)
	if err != nil {
		return nil, nil, fmt.Errorf("bind executor model: %w", err)
	}
	planGen, err = m.registry.Ensure(project.Models.Planner)
	if err != nil {
		return nil, nil, fmt.Errorf("bind planner model: %w", err)
	}
	if project.Models.Voter != "" {
		if _, err := m.registry.Ensure(project.Models.Voter); err != nil {
			return nil, nil, fmt.Errorf("bind voter model: %w", err)
		}
	}
	return execGen, planGen, nil
}

func (m *Manager) executeFeature(ctx context.Context, project *models.Project, feature *models.Feature,
	execGen, planGen provider.Generator) error {
	if err := m.store.SetFeatureStatus(feature.ID, models.FeatureStatusRunning, ""); err != nil {
		return err
	}
	m.emit(project.ID, feature.ID, "", models.EventFeatureStarted, map[string]any{"name": feature.Name})

	subtasks, err := m.ensurePlanned(ctx, project, feature, planGen)
	if err != nil {
		m.failFeature(project.ID, feature, err)
		return err
	}

	runner, err := m.newRunner(project)
	if err != nil {
		m.failFeature(project.ID, feature, err)
		return err
	}

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

	for _, sub := range subtasks {
		if m.interrupted(feature.ID) || ctx.Err() != nil {
			return m.pauseFeature(project.ID, feature)
		}
		if sub.Status == models.SubtaskStatusCompleted {
			continue
		}

		if err := m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusRunning, "", ""); err != nil {
			m.failFeature(project.ID, feature, err)
			return err
		}
		m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskStarted, map[string]any{"intent": sub.Intent})

		stepRes := runner.RunSubtask(ctx, task, sub)
		if stepRes.Err != nil {
			_ = m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusFailed, "", stepRes.Err.Error())
			m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskFailed, map[string]any{"error": stepRes.Err.Error()})
			m.failFeature(project.ID, feature, stepRes.Err)
			return stepRes.Err
		}

		if err := m.store.SetSubtaskStatus(sub.ID, models.SubtaskStatusCompleted, stepRes.Winner, ""); err != nil {
			m.failFeature(project.ID, feature, err)
			return err
		}
		m.emit(project.ID, feature.ID, sub.ID, models.EventSubtaskCompleted, nil)
	}

	return m.finishFeature(ctx, project, feature)
}

// ensurePlanned returns the feature's subtasks, invoking the planner first
// when none exist yet.
func (m *Manager) ensurePlanned(ctx context.Context, project *models.Project, feature *models.Feature,
	planGen provider.Generator) ([]*models.Subtask, error) {
	subtasks, err := m.store.GetSubtasksByFeature(feature.ID)
	if err != nil {
		return nil, err
	}
	if len(subtasks) > 0 {
		return subtasks, nil
	}

	m.emit(project.ID, feature.ID, "", models.EventFeaturePlanning, nil)

	pl, err := m.newPlanner(project, planGen)
	if err != nil {
		return nil, err
	}
	completed, err := m.completedFeatureSummaries(project.ID)
	if err != nil {
		return nil, err
	}
	met, unmet, err := m.dependencyNames(feature)
	if err != nil {
		return nil, err
	}

	planned, err := pl.Plan(ctx, planner.Request{
		Feature:           feature,
		Guidelines:        project.Description,
		CompletedFeatures: completed,
		MetDependencies:   met,
		UnmetDependencies: unmet,
	})
	if err != nil {
		return nil, fmt.Errorf("plan feature: %w", err)
	}

	for _, sub := range planned {
		sub.FeatureID = feature.ID
		if err := m.store.CreateSubtask(sub); err != nil {
			return nil, fmt.Errorf("persist subtask: %w", err)
		}
	}
	m.emit(project.ID, feature.ID, "", models.EventFeaturePlanned, map[string]any{"subtasks": len(planned)})
	return planned, nil
}

// finishFeature applies the terminal transition: A features auto-complete,
// B and C park at human_testing until promoted.
func (m *Manager) finishFeature(ctx context.Context, project *models.Project, feature *models.Feature) error {
	summary, err := m.technicalSummary(feature)
	if err != nil {
		return err
	}

	final := models.FeatureStatusCompleted
	eventType := models.EventFeatureCompleted
	if feature.Priority != models.PriorityA {
		final = models.FeatureStatusHumanTesting
		eventType = models.EventFeatureAwaitingTest
	}

	feature.Status = final
	feature.TechnicalSummary = summary
	feature.Error = ""
	if err := m.store.UpdateFeature(feature); err != nil {
		return err
	}

	if m.commit != nil {
		if err := m.commit.Commit(ctx, project, feature, summary); err != nil {
			m.emit(project.ID, feature.ID, "", models.EventFeatureError, map[string]any{"error": "commit: " + err.Error()})
		}
	}

	m.emit(project.ID, feature.ID, "", eventType, map[string]any{"summary": summary})
	return nil
}

// technicalSummary builds the persisted feature summary: name, completion
// ratio, and the distinct files touched.
func (m *Manager) technicalSummary(feature *models.Feature) (string, error) {
	subtasks, err := m.store.GetSubtasksByFeature(feature.ID)
	if err != nil {
		return "", err
	}
	completed := 0
	fileSet := map[string]bool{}
	for _, s := range subtasks {
		if s.Status == models.SubtaskStatusCompleted {
			completed++
		}
		if s.Apply.Path != "" {
			fileSet[s.Apply.Path] = true
		}
	}
	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)
	return fmt.Sprintf("%s: %d/%d subtasks completed; files: %s",
		feature.Name, completed, len(subtasks), strings.Join(files, ", ")), nil
}

func (m *Manager) pauseFeature(projectID string, feature *models.Feature) error {
	m.mu.Lock()
	aborted := m.aborted[feature.ID]
	delete(m.pauseRequests, feature.ID)
	delete(m.aborted, feature.ID)
	m.mu.Unlock()

	if err := m.store.SetFeatureStatus(feature.ID, models.FeatureStatusPaused, ""); err != nil {
		return err
	}
	payload := map[string]any{}
	if aborted {
		payload["aborted"] = true
	}
	m.emit(projectID, feature.ID, "", models.EventFeaturePaused, payload)
	return nil
}

func (m *Manager) failFeature(projectID string, feature *models.Feature, cause error) {
	if err := m.store.SetFeatureStatus(feature.ID, models.FeatureStatusFailed, cause.Error()); err != nil {
		m.emit(projectID, feature.ID, "", models.EventFeatureError, map[string]any{"error": err.Error()})
	}
	m.emit(projectID, feature.ID, "", models.EventFeatureFailed, map[string]any{"error": cause.Error()})
}

// interrupted reports whether a pause or abort was requested for the feature.
func (m *Manager) interrupted(featureID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseRequests[featureID] || m.aborted[featureID]
}

func (m *Manager) completedFeatureSummaries(projectID string) ([]string, error) {
	features, err := m.store.GetFeaturesByProject(projectID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range features {
		if f.Status.Satisfied() && f.TechnicalSummary != "" {
			out = append(out, f.TechnicalSummary)
		}
	}
	return out, nil
}

func (m *Manager) dependencyNames(feature *models.Feature) (met, unmet []string, err error) {
	for _, depID := range feature.DependsOn {
		dep, err := m.store.GetFeature(depID)
		if err != nil {
			unmet = append(unmet, depID)
			continue
		}
		if dep.Status.Satisfied() {
			met = append(met, dep.Name)
		} else {
			unmet = append(unmet, dep.Name)
		}
	}
	return met, unmet, nil
}

func (m *Manager) emit(projectID, featureID, subtaskID string, typ models.EventType, payload map[string]any) {
	e := models.Event{
		ProjectID: projectID,
		FeatureID: featureID,
		SubtaskID: subtaskID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	_ = m.store.RecordEvent(&e)
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// sortFeatures orders by priority band (A, B, C), then order index, then
// creation time.
func sortFeatures(features []*models.Feature) {
	sort.SliceStable(features, func(a, b int) bool {
		if features[a].Priority.Rank() != features[b].Priority.Rank() {
			return features[a].Priority.Rank() < features[b].Priority.Rank()
		}
		if features[a].OrderIndex != features[b].OrderIndex {
			return features[a].OrderIndex < features[b].OrderIndex
		}
		return features[a].CreatedAt.Before(features[b].CreatedAt)
	})
}
