package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// RecordEvent appends an event to the audit log and returns it with the
// assigned monotonic id.
func (s *Store) RecordEvent(e *models.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := s.Exec(`
		INSERT INTO events (project_id, feature_id, subtask_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ProjectID, e.FeatureID, e.SubtaskID, string(e.Type), marshalJSON(e.Payload), formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	e.ID = id
	return nil
}

// GetEventsByProject returns the project's events in id order, newest last.
// afterID restricts to events with a larger id; limit of 0 means no limit.
func (s *Store) GetEventsByProject(projectID string, afterID int64, limit int) ([]*models.Event, error) {
	q := `
		SELECT id, project_id, feature_id, subtask_id, event_type, payload, created_at
		FROM events WHERE project_id = ? AND id > ? ORDER BY id ASC`
	args := []any{projectID, afterID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		var projID, featID, subID, payload sql.NullString
		var etype, createdAt string
		if err := rows.Scan(&e.ID, &projID, &featID, &subID, &etype, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ProjectID = projID.String
		e.FeatureID = featID.String
		e.SubtaskID = subID.String
		e.Type = models.EventType(etype)
		e.Payload = unmarshalMap(payload.String)
		e.Timestamp, _ = parseTime(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// RecordWizardMessage appends one wizard conversation message for a project.
func (s *Store) RecordWizardMessage(projectID, role, content string) error {
	_, err := s.Exec(`
		INSERT INTO wizard_messages (project_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, projectID, role, content, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert wizard message: %w", err)
	}
	return nil
}

// ListWizardMessages returns a project's wizard conversation in order.
func (s *Store) ListWizardMessages(projectID string) ([]*models.WizardMessage, error) {
	rows, err := s.Query(`
		SELECT id, project_id, role, content, created_at
		FROM wizard_messages WHERE project_id = ? ORDER BY id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query wizard messages: %w", err)
	}
	defer rows.Close()

	var out []*models.WizardMessage
	for rows.Next() {
		var m models.WizardMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan wizard message: %w", err)
		}
		m.Timestamp, _ = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}
