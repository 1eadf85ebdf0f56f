package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingCommand is a command that needs human approval before it runs.
type PendingCommand struct {
	// ID is the approval id generated by the command runner.
	ID string `json:"id"`
	// ProjectID is the related project, if any.
	ProjectID string `json:"project_id,omitempty"`
	// Command is the shell command awaiting approval.
	Command string `json:"command"`
	// Cwd is the working directory for the command.
	Cwd string `json:"cwd,omitempty"`
	// Severity is the classified severity (med or high).
	Severity string `json:"severity"`
	// CreatedAt is when the approval was queued.
	CreatedAt time.Time `json:"created_at"`
}

// EnqueuePendingCommand persists a needs-approval command.
func (s *Store) EnqueuePendingCommand(pc *PendingCommand) error {
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now()
	}
	_, err := s.Exec(`
		INSERT INTO pending_commands (id, project_id, command, cwd, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pc.ID, pc.ProjectID, pc.Command, pc.Cwd, pc.Severity, formatTime(pc.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert pending command: %w", err)
	}
	return nil
}

// GetPendingCommand returns the queued command with the given approval id.
func (s *Store) GetPendingCommand(id string) (*PendingCommand, error) {
	row := s.QueryRow(`
		SELECT id, project_id, command, cwd, severity, created_at
		FROM pending_commands WHERE id = ?
	`, id)

	var pc PendingCommand
	var projID, cwd sql.NullString
	var createdAt string
	err := row.Scan(&pc.ID, &projID, &pc.Command, &cwd, &pc.Severity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending command: %w", err)
	}
	pc.ProjectID = projID.String
	pc.Cwd = cwd.String
	pc.CreatedAt, _ = parseTime(createdAt)
	return &pc, nil
}

// ListPendingCommands returns all queued commands in creation order.
func (s *Store) ListPendingCommands() ([]*PendingCommand, error) {
	rows, err := s.Query(`
		SELECT id, project_id, command, cwd, severity, created_at
		FROM pending_commands ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer rows.Close()

	var out []*PendingCommand
	for rows.Next() {
		var pc PendingCommand
		var projID, cwd sql.NullString
		var createdAt string
		if err := rows.Scan(&pc.ID, &projID, &pc.Command, &cwd, &pc.Severity, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending command: %w", err)
		}
		pc.ProjectID = projID.String
		pc.Cwd = cwd.String
		pc.CreatedAt, _ = parseTime(createdAt)
		out = append(out, &pc)
	}
	return out, rows.Err()
}

// ResolvePendingCommand removes a queued command once it has been approved
// and re-run (or rejected).
func (s *Store) ResolvePendingCommand(id string) error {
	res, err := s.Exec(`DELETE FROM pending_commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending command: %w", err)
	}
	return requireAffected(res)
}
