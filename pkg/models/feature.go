package models

import "time"

// Priority orders features for selection. A runs before B, B before C.
type Priority string

const (
	// PriorityA is the highest priority. A features auto-complete on success.
	PriorityA Priority = "A"
	// PriorityB features park at human_testing on success.
	PriorityB Priority = "B"
	// PriorityC is the lowest priority. C features park at human_testing.
	PriorityC Priority = "C"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityA, PriorityB, PriorityC:
		return true
	default:
		return false
	}
}

// Rank returns the sort rank of the priority (A=0, B=1, C=2).
func (p Priority) Rank() int {
	switch p {
	case PriorityA:
		return 0
	case PriorityB:
		return 1
	default:
		return 2
	}
}

// FeatureStatus represents the current state of a feature.
type FeatureStatus string

const (
	// FeatureStatusPending indicates the feature has not started.
	FeatureStatusPending FeatureStatus = "pending"
	// FeatureStatusRunning indicates the feature is executing subtasks.
	FeatureStatusRunning FeatureStatus = "running"
	// FeatureStatusPaused indicates execution stopped at a subtask boundary.
	FeatureStatusPaused FeatureStatus = "paused"
	// FeatureStatusBlocked indicates a dependency failed or is unmet.
	FeatureStatusBlocked FeatureStatus = "blocked"
	// FeatureStatusFailed indicates a subtask failed and stopped the feature.
	FeatureStatusFailed FeatureStatus = "failed"
	// FeatureStatusCompleted indicates all subtasks completed.
	FeatureStatusCompleted FeatureStatus = "completed"
	// FeatureStatusVerified indicates the feature passed external verification.
	FeatureStatusVerified FeatureStatus = "verified"
	// FeatureStatusHumanTesting indicates the feature awaits explicit promotion.
	FeatureStatusHumanTesting FeatureStatus = "human_testing"
)

// Valid returns true if the status is a known value.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureStatusPending, FeatureStatusRunning, FeatureStatusPaused,
		FeatureStatusBlocked, FeatureStatusFailed, FeatureStatusCompleted,
		FeatureStatusVerified, FeatureStatusHumanTesting:
		return true
	default:
		return false
	}
}

// Satisfied reports whether this status satisfies a dependency edge.
func (s FeatureStatus) Satisfied() bool {
	return s == FeatureStatusCompleted || s == FeatureStatusVerified
}

// Feature represents a user-visible capability decomposed into subtasks.
type Feature struct {
	// ID is the unique identifier for this feature.
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Name is the short feature name.
	Name string `json:"name"`
	// Description provides detailed information about the feature.
	Description string `json:"description,omitempty"`
	// Priority orders this feature relative to its siblings.
	Priority Priority `json:"priority"`
	// Status is the current state of the feature.
	Status FeatureStatus `json:"status"`
	// DependsOn lists feature IDs that must be completed or verified first.
	DependsOn []string `json:"depends_on,omitempty"`
	// DefinitionOfDone holds human-authored acceptance criteria.
	DefinitionOfDone string `json:"definition_of_done,omitempty"`
	// TechnicalSummary is set when the feature finishes.
	TechnicalSummary string `json:"technical_summary,omitempty"`
	// OrderIndex orders features within the same priority band.
	OrderIndex int `json:"order_index"`
	// Error contains the failure message if the feature failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the feature was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the feature was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
