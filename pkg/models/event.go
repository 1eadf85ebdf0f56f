package models

import "time"

// EventType identifies the kind of an emitted event.
type EventType string

const (
	// EventFeatureStarted indicates a feature began executing.
	EventFeatureStarted EventType = "feature-started"
	// EventFeaturePlanning indicates the planner is decomposing a feature.
	EventFeaturePlanning EventType = "feature-planning"
	// EventPlannerProgress carries planner telemetry messages.
	EventPlannerProgress EventType = "planner-progress"
	// EventFeaturePlanned indicates subtasks were persisted for a feature.
	EventFeaturePlanned EventType = "feature-planned"
	// EventSubtaskStarted indicates a subtask began executing.
	EventSubtaskStarted EventType = "subtask-started"
	// EventSubtaskCompleted indicates a subtask completed successfully.
	EventSubtaskCompleted EventType = "subtask-completed"
	// EventSubtaskFailed indicates a subtask failed.
	EventSubtaskFailed EventType = "subtask-failed"
	// EventVoteSummary carries the voting outcome for one step.
	EventVoteSummary EventType = "vote-summary"
	// EventStepStart indicates a step began.
	EventStepStart EventType = "step-start"
	// EventStepCompleted indicates a step completed.
	EventStepCompleted EventType = "step-completed"
	// EventStepError indicates a step failed.
	EventStepError EventType = "step-error"
	// EventCommandOutput streams command stdout/stderr chunks.
	EventCommandOutput EventType = "command-output"
	// EventFeatureCompleted indicates a feature reached completed.
	EventFeatureCompleted EventType = "feature-completed"
	// EventFeatureAwaitingTest indicates a feature parked at human_testing.
	EventFeatureAwaitingTest EventType = "feature-awaiting-test"
	// EventFeaturePaused indicates a feature paused at a subtask boundary.
	EventFeaturePaused EventType = "feature-paused"
	// EventFeaturePauseRequested indicates a pause was requested.
	EventFeaturePauseRequested EventType = "feature-pause-requested"
	// EventFeatureFailed indicates a feature failed.
	EventFeatureFailed EventType = "feature-failed"
	// EventFeatureError indicates an unexpected error while running a feature.
	EventFeatureError EventType = "feature-error"
	// EventProjectDeleted indicates a project was archived and removed.
	EventProjectDeleted EventType = "project-deleted"
)

// Event is one append-only audit log record. Events drive both the
// persistent history and the live stream.
type Event struct {
	// ID is the monotonic event id assigned by the store.
	ID int64 `json:"id"`
	// ProjectID is the related project, if any.
	ProjectID string `json:"project_id,omitempty"`
	// FeatureID is the related feature, if any.
	FeatureID string `json:"feature_id,omitempty"`
	// SubtaskID is the related subtask, if any.
	SubtaskID string `json:"subtask_id,omitempty"`
	// Type is the kind of event.
	Type EventType `json:"type"`
	// Payload holds structured event data as JSON.
	Payload map[string]any `json:"payload,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
