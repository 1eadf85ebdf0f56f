// Package planner decomposes a feature into subtasks using a two-stage,
// model-driven protocol: inspect the workspace, then plan the work.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomgoeck/Ultracode-sub000/internal/action"
	"github.com/tomgoeck/Ultracode-sub000/internal/guard"
	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

const (
	// maxInspectRounds bounds stage 1.
	maxInspectRounds = 5
	// maxInspectFiles bounds the total files read across all rounds.
	maxInspectFiles = 20
	// maxTreeEntries truncates the file tree shown to the model.
	maxTreeEntries = 200
	// maxFileChars truncates each inspected file.
	maxFileChars = 8000
)

// Request carries everything the planner needs for one feature.
type Request struct {
	// Feature is the work to decompose.
	Feature *models.Feature
	// Guidelines are project conventions included in the plan prompt.
	Guidelines string
	// CompletedFeatures summarizes prior work (name, files, summary lines).
	CompletedFeatures []string
	// MetDependencies and UnmetDependencies name the feature's dependencies.
	MetDependencies   []string
	UnmetDependencies []string
}

// Planner runs the inspect/plan protocol against a primary model with
// fallbacks.
type Planner struct {
	guard      *guard.Guard
	primary    provider.Generator
	fallbacks  []provider.Generator
	onProgress func(message string)
}

// New creates a Planner. fallbacks and onProgress may be nil.
func New(g *guard.Guard, primary provider.Generator, fallbacks []provider.Generator, onProgress func(string)) *Planner {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	return &Planner{guard: g, primary: primary, fallbacks: fallbacks, onProgress: onProgress}
}

// inspectReply is the stage 1 response shape.
type inspectReply struct {
	Inspect []string `json:"inspect"`
	Search  []string `json:"search"`
	Done    bool     `json:"done"`
}

// planReply is the stage 2 response shape.
type planReply struct {
	Subtasks []struct {
		Intent string `json:"intent"`
		Apply  struct {
			Type string `json:"type"`
			Path string `json:"path"`
		} `json:"apply"`
	} `json:"subtasks"`
}

// Plan decomposes the feature into subtasks. It never fails outright: when
// every model response is unusable it returns the minimal fallback plan.
func (p *Planner) Plan(ctx context.Context, req Request) ([]*models.Subtask, error) {
	tree, err := p.guard.Tree(maxTreeEntries)
	if err != nil {
		return nil, fmt.Errorf("read file tree: %w", err)
	}

	snippets := p.inspect(ctx, req.Feature, tree)

	prompt := p.buildPlanPrompt(req, tree, snippets)
	for _, gen := range append([]provider.Generator{p.primary}, p.fallbacks...) {
		if gen == nil {
			continue
		}
		subtasks := p.tryPlan(ctx, gen, prompt, req.Feature)
		if len(subtasks) >= 2 {
			return subtasks, nil
		}
	}

	p.onProgress("planning fell back to a minimal subtask")
	return []*models.Subtask{fallbackSubtask(req.Feature)}, nil
}

// inspect is stage 1: let the model pick files to read, a few rounds, with
// keyword filename search to widen the net. Returns collected snippets.
func (p *Planner) inspect(ctx context.Context, feature *models.Feature, tree []string) []string {
	var snippets []string
	seen := map[string]bool{}
	read := 0

	treeSet := map[string]bool{}
	for _, path := range tree {
		treeSet[path] = true
	}

	for round := 0; round < maxInspectRounds && read < maxInspectFiles; round++ {
		p.onProgress(fmt.Sprintf("inspecting workspace (round %d)", round+1))

		reply, err := p.inspectRound(ctx, feature, tree, snippets)
		if err != nil {
			// Inspection is best effort; plan with what we have.
			return snippets
		}

		targets := make([]string, 0, len(reply.Inspect))
		for _, path := range reply.Inspect {
			if treeSet[path] && !seen[path] {
				targets = append(targets, path)
			}
		}
		if len(targets) < maxInspectFiles-read {
			targets = append(targets, searchTree(tree, reply.Search, seen)...)
		}

		progressed := false
		for _, path := range targets {
			if read >= maxInspectFiles {
				break
			}
			if seen[path] {
				continue
			}
			seen[path] = true
			content, err := p.guard.ReadFile(path)
			if err != nil {
				continue
			}
			if len(content) > maxFileChars {
				content = content[:maxFileChars]
			}
			snippets = append(snippets, fmt.Sprintf("=== %s ===\n%s", path, content))
			read++
			progressed = true
		}

		if reply.Done || !progressed {
			break
		}
	}
	return snippets
}

func (p *Planner) inspectRound(ctx context.Context, feature *models.Feature, tree, snippets []string) (*inspectReply, error) {
	var b strings.Builder
	b.WriteString("You are planning work in an existing project. Decide which files to read before planning.\n\n")
	b.WriteString("Feature: " + feature.Name + "\n" + feature.Description + "\n\n")
	b.WriteString("File tree:\n" + strings.Join(tree, "\n") + "\n\n")
	if len(snippets) > 0 {
		b.WriteString(fmt.Sprintf("You have already read %d file(s).\n\n", len(snippets)))
	}
	b.WriteString(`Respond with JSON only: {"inspect": ["path", ...], "search": ["keyword", ...], "done": false}. ` +
		"Set done to true when you have seen enough.")

	comp, err := p.primary.Generate(ctx, b.String(), provider.Options{Temperature: 0})
	if err != nil {
		return nil, err
	}
	var reply inspectReply
	if err := json.Unmarshal([]byte(action.UnwrapFence(comp.Content)), &reply); err != nil {
		return nil, fmt.Errorf("parse inspect reply: %w", err)
	}
	return &reply, nil
}

// searchTree returns tree paths whose filename contains any keyword.
func searchTree(tree, keywords []string, seen map[string]bool) []string {
	var hits []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		for _, path := range tree {
			if seen[path] {
				continue
			}
			if strings.Contains(strings.ToLower(path), kw) {
				hits = append(hits, path)
			}
		}
	}
	return hits
}

func (p *Planner) buildPlanPrompt(req Request, tree, snippets []string) string {
	var b strings.Builder

	b.WriteString("Decompose the feature below into ordered subtasks.\n\n")
	if req.Guidelines != "" {
		b.WriteString("Project guidelines:\n" + req.Guidelines + "\n\n")
	}
	if len(req.CompletedFeatures) > 0 {
		b.WriteString("Completed features:\n" + strings.Join(req.CompletedFeatures, "\n") + "\n\n")
	}
	if len(req.MetDependencies) > 0 {
		b.WriteString("Dependencies already satisfied: " + strings.Join(req.MetDependencies, ", ") + "\n")
	}
	if len(req.UnmetDependencies) > 0 {
		b.WriteString("Dependencies NOT yet satisfied: " + strings.Join(req.UnmetDependencies, ", ") + "\n")
	}
	b.WriteString("\nFile tree:\n" + strings.Join(tree, "\n") + "\n\n")
	if len(snippets) > 0 {
		b.WriteString("Inspected files:\n" + strings.Join(snippets, "\n\n") + "\n\n")
	}
	b.WriteString("Feature: " + req.Feature.Name + "\n" + req.Feature.Description + "\n")
	if req.Feature.DefinitionOfDone != "" {
		b.WriteString("Definition of done: " + req.Feature.DefinitionOfDone + "\n")
	}
	b.WriteString("\nRespond with JSON only: " +
		`{"subtasks": [{"intent": "...", "apply": {"type": "writeFile", "path": "relative/path"}}, ...]}. ` +
		"Valid apply types: writeFile, appendFile, editFile, actions.")
	return b.String()
}

// tryPlan asks one model for a plan and normalizes the reply. Returns nil
// when the response is unusable.
func (p *Planner) tryPlan(ctx context.Context, gen provider.Generator, prompt string, feature *models.Feature) []*models.Subtask {
	comp, err := gen.Generate(ctx, prompt, provider.Options{Temperature: 0})
	if err != nil {
		return nil
	}

	var reply planReply
	if err := json.Unmarshal([]byte(action.UnwrapFence(comp.Content)), &reply); err != nil {
		return nil
	}

	var subtasks []*models.Subtask
	for i, raw := range reply.Subtasks {
		intent := strings.TrimSpace(raw.Intent)
		if intent == "" {
			continue
		}
		applyType := models.ApplyType(raw.Apply.Type)
		if !applyType.Valid() {
			applyType = models.ApplyWriteFile
		}
		path := raw.Apply.Path
		if path == "" && applyType != models.ApplyActions {
			path = placeholderPath(feature, i)
		}
		subtasks = append(subtasks, &models.Subtask{
			FeatureID: feature.ID,
			Intent:    intent,
			Apply:     models.Apply{Type: applyType, Path: path},
			Status:    models.SubtaskStatusPending,
		})
	}
	return subtasks
}

// fallbackSubtask is the minimal plan used when every model response failed.
func fallbackSubtask(feature *models.Feature) *models.Subtask {
	return &models.Subtask{
		FeatureID: feature.ID,
		Intent:    "Implement: " + feature.Name + ". " + feature.Description,
		Apply:     models.Apply{Type: models.ApplyWriteFile, Path: placeholderPath(feature, 0)},
		Status:    models.SubtaskStatusPending,
	}
}

// placeholderPath synthesizes a target path for plan entries that omitted one.
func placeholderPath(feature *models.Feature, index int) string {
	slug := strings.ToLower(feature.Name)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "feature"
	}
	return fmt.Sprintf("src/%s-%d.txt", slug, index)
}
