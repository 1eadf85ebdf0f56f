package models

// Role identifies which part of the system made a provider call.
type Role string

const (
	// RolePlanner marks planner calls.
	RolePlanner Role = "planner"
	// RoleSubtask marks subtask execution calls.
	RoleSubtask Role = "subtask"
	// RoleVoter marks voting sample calls.
	RoleVoter Role = "voter"
	// RoleChat marks interactive chat calls.
	RoleChat Role = "chat"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleSubtask, RoleVoter, RoleChat:
		return true
	default:
		return false
	}
}

// TokenUsage holds token counts for a single provider call.
type TokenUsage struct {
	// InputTokens is the prompt token count.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the completion token count.
	OutputTokens int64 `json:"output_tokens"`
	// TotalTokens is input + output.
	TotalTokens int64 `json:"total_tokens"`
}

// UsageAggregate is a cumulative per-(project, model) or
// per-(project, role, model) usage row. All counters are monotone.
type UsageAggregate struct {
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Role is empty for the (project, model) aggregate.
	Role Role `json:"role,omitempty"`
	// Model is the "providerType:modelName" reference.
	Model string `json:"model"`
	// InputTokens is the cumulative prompt token count.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the cumulative completion token count.
	OutputTokens int64 `json:"output_tokens"`
	// TotalTokens is the cumulative total token count.
	TotalTokens int64 `json:"total_tokens"`
	// Calls is the cumulative number of provider calls.
	Calls int64 `json:"calls"`
	// Cost is the cumulative estimated cost in USD.
	Cost float64 `json:"cost"`
}
