// Package models defines the entity model shared across Ultracode:
// projects, features, subtasks, events, voting candidates, and usage
// aggregates. Entities hold ids only; graph edges are resolved by lookup.
package models

import "time"

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	// ProjectStatusCreated indicates the project exists but has no features yet.
	ProjectStatusCreated ProjectStatus = "created"
	// ProjectStatusActive indicates the project has features and can execute.
	ProjectStatusActive ProjectStatus = "active"
	// ProjectStatusArchived indicates the project has been deleted.
	ProjectStatusArchived ProjectStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusCreated, ProjectStatusActive, ProjectStatusArchived:
		return true
	default:
		return false
	}
}

// ModelBindings names the models a project uses per role.
// Each entry is a "providerType:modelName" reference, e.g. "anthropic:claude-haiku-4-5".
type ModelBindings struct {
	// Planner is the model used for feature planning.
	Planner string `json:"planner"`
	// Executor is the model used for subtask execution.
	Executor string `json:"executor"`
	// Voter is the model used for voting samples. Defaults to Executor when empty.
	Voter string `json:"voter,omitempty"`
}

// Bound returns true if the bindings required for execution are non-empty.
func (b ModelBindings) Bound() bool {
	return b.Planner != "" && b.Executor != ""
}

// Project represents one code-generation project rooted at a folder on disk.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// Name is the human-readable project name.
	Name string `json:"name"`
	// Description is the user's description of what to build.
	Description string `json:"description,omitempty"`
	// FolderPath is the absolute path to the project workspace.
	FolderPath string `json:"folder_path"`
	// Models binds planner/executor/voter models for this project.
	Models ModelBindings `json:"models"`
	// ProjectType is a scaffolding tag (e.g. "node", "go").
	ProjectType string `json:"project_type,omitempty"`
	// Status is the lifecycle state of the project.
	Status ProjectStatus `json:"status"`
	// Bootstrapped indicates init.sh has completed successfully.
	Bootstrapped bool `json:"bootstrapped"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the project was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
