package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomgoeck/Ultracode-sub000/internal/action"
	"github.com/tomgoeck/Ultracode-sub000/internal/command"
	"github.com/tomgoeck/Ultracode-sub000/internal/config"
	"github.com/tomgoeck/Ultracode-sub000/internal/events"
	"github.com/tomgoeck/Ultracode-sub000/internal/git"
	"github.com/tomgoeck/Ultracode-sub000/internal/guard"
	"github.com/tomgoeck/Ultracode-sub000/internal/logging"
	"github.com/tomgoeck/Ultracode-sub000/internal/manager"
	"github.com/tomgoeck/Ultracode-sub000/internal/orchestrator"
	"github.com/tomgoeck/Ultracode-sub000/internal/paraphrase"
	"github.com/tomgoeck/Ultracode-sub000/internal/planner"
	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/store"
	"github.com/tomgoeck/Ultracode-sub000/internal/usage"
	"github.com/tomgoeck/Ultracode-sub000/internal/vote"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// app bundles the wired collaborators behind every command.
type app struct {
	cfg      *config.Config
	store    *store.Store
	bus      *events.Bus
	registry *provider.Registry
	runner   *command.Runner
	manager  *manager.Manager
	llmLog   *logging.LLMLogger
	acct     *usage.Accountant
}

// newApp loads configuration and wires the full engine. Every command goes
// through here so behavior is identical across entry points.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	policy, err := command.LoadPolicy(cfg.Safety.PolicyFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load command policy: %w", err)
	}
	policy.AllowPatterns = append(policy.AllowPatterns, cfg.Safety.Allowlist...)
	policy.DenyPatterns = append(policy.DenyPatterns, cfg.Safety.Denylist...)
	runner := command.NewRunner(policy, command.SafetyMode(cfg.Safety.Mode), st)

	llmLog, err := logging.NewLLMLogger(logging.Mode(cfg.LLMLog.Mode), cfg.LLMLog.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open llm log: %w", err)
	}

	bus := events.NewBus()
	registry := provider.NewRegistry(cfg.Credentials())
	accountant := usage.NewAccountant(st)

	newRunner := func(project *models.Project) (manager.SubtaskRunner, error) {
		g, err := guard.New(project.FolderPath)
		if err != nil {
			return nil, fmt.Errorf("open workspace %s: %w", project.FolderPath, err)
		}
		exec := action.New(g, runner)
		var prompter vote.Prompter
		if gen, err := registry.Ensure(project.Models.Executor); err == nil {
			prompter = paraphrase.New(gen, project.Models.Executor)
		}
		return orchestrator.New(st, bus, exec, runner, prompter, accountant, llmLog), nil
	}

	newPlanner := func(project *models.Project, gen provider.Generator) (manager.FeaturePlanner, error) {
		g, err := guard.New(project.FolderPath)
		if err != nil {
			return nil, fmt.Errorf("open workspace %s: %w", project.FolderPath, err)
		}
		metered := &meteredGenerator{
			inner:     gen,
			projectID: project.ID,
			role:      models.RolePlanner,
			model:     project.Models.Planner,
			acct:      accountant,
			llmLog:    llmLog,
		}
		onProgress := func(message string) {
			bus.Publish(models.Event{
				ProjectID: project.ID,
				Type:      models.EventPlannerProgress,
				Payload:   map[string]any{"message": message},
				Timestamp: time.Now(),
			})
		}
		return planner.New(g, metered, nil, onProgress), nil
	}

	mgr := manager.New(st, bus, registry, newRunner, newPlanner,
		manager.WithVotingDefaults(vote.Config{
			K:              cfg.Voting.K,
			InitialSamples: cfg.Voting.InitialSamples,
			MaxSamples:     cfg.Voting.MaxSamples,
			Temperature:    -1,
		}),
		manager.WithCommitHook(git.NewCommitter()),
	)

	return &app{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		registry: registry,
		runner:   runner,
		manager:  mgr,
		llmLog:   llmLog,
		acct:     accountant,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	a.llmLog.Sync()
	a.store.Close()
}

// meteredGenerator records usage and llm-log entries around a generator.
type meteredGenerator struct {
	inner     provider.Generator
	projectID string
	role      models.Role
	model     string
	acct      *usage.Accountant
	llmLog    *logging.LLMLogger
}

func (m *meteredGenerator) Generate(ctx context.Context, prompt string, opts provider.Options) (*provider.Completion, error) {
	comp, err := m.inner.Generate(ctx, prompt, opts)
	if err != nil {
		m.llmLog.Error(m.projectID, string(m.role), m.model, err)
		return nil, err
	}
	// Accounting failures must not fail the call.
	_ = m.acct.Record(m.projectID, m.role, m.model, prompt, comp.Content, comp.Usage)
	var in, out int64
	if comp.Usage != nil {
		in, out = comp.Usage.InputTokens, comp.Usage.OutputTokens
	}
	m.llmLog.Interaction(m.projectID, string(m.role), m.model, prompt, comp.Content, in, out)
	return comp, nil
}
