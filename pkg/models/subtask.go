package models

import "time"

// ApplyType declares how a subtask's winning output is applied to the workspace.
type ApplyType string

const (
	// ApplyWriteFile writes the winner as the complete file content.
	ApplyWriteFile ApplyType = "writeFile"
	// ApplyAppendFile concatenates the winner to the existing file content.
	ApplyAppendFile ApplyType = "appendFile"
	// ApplyEditFile applies a JSON {old_string,new_string} replacement.
	ApplyEditFile ApplyType = "editFile"
	// ApplyWriteFileFromState writes file content pulled from a state key.
	ApplyWriteFileFromState ApplyType = "writeFileFromState"
	// ApplyStatePatch merges the winner into the task state.
	ApplyStatePatch ApplyType = "statePatch"
	// ApplyActions means the winner is an untyped {"actions":[...]} batch.
	ApplyActions ApplyType = "actions"
)

// Valid returns true if the apply type is a known value.
func (a ApplyType) Valid() bool {
	switch a {
	case ApplyWriteFile, ApplyAppendFile, ApplyEditFile,
		ApplyWriteFileFromState, ApplyStatePatch, ApplyActions:
		return true
	default:
		return false
	}
}

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// SubtaskStatusPending indicates the subtask has not started.
	SubtaskStatusPending SubtaskStatus = "pending"
	// SubtaskStatusRunning indicates the subtask is executing.
	SubtaskStatusRunning SubtaskStatus = "running"
	// SubtaskStatusCompleted indicates the subtask completed successfully.
	SubtaskStatusCompleted SubtaskStatus = "completed"
	// SubtaskStatusFailed indicates the subtask failed.
	SubtaskStatusFailed SubtaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusRunning, SubtaskStatusCompleted, SubtaskStatusFailed:
		return true
	default:
		return false
	}
}

// Apply describes the declared effect of a subtask.
type Apply struct {
	// Type is the apply kind.
	Type ApplyType `json:"type"`
	// Path is the project-relative target path, when the type needs one.
	Path string `json:"path,omitempty"`
	// StateKey names the state entry for writeFileFromState.
	StateKey string `json:"state_key,omitempty"`
}

// Subtask is the smallest unit of execution within a feature.
// Subtasks are created in a monotonic order and executed in creation order.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// FeatureID is the owning feature.
	FeatureID string `json:"feature_id"`
	// Intent is the prose description of what this subtask should do.
	Intent string `json:"intent"`
	// Apply declares how the winner is applied. Zero value means the
	// untyped actions schema is expected.
	Apply Apply `json:"apply"`
	// Command is an optional shell command to run after a successful apply.
	Command string `json:"command,omitempty"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
	// Result holds the structured winner and action results as JSON.
	Result string `json:"result,omitempty"`
	// Error contains the failure message if the subtask failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the subtask was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the subtask was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
