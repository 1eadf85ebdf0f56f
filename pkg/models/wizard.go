package models

import "time"

// WizardMessage is one turn of the project wizard conversation. Role is
// "user" or "assistant".
type WizardMessage struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
