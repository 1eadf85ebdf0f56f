package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// CreateSubtask persists a new subtask at the end of the feature's creation
// order. A missing ID is generated; status defaults to pending.
func (s *Store) CreateSubtask(st *models.Subtask) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Status == "" {
		st.Status = models.SubtaskStatusPending
	}
	if !st.Status.Valid() {
		return fmt.Errorf("invalid subtask status %q", st.Status)
	}
	if st.Apply.Type != "" && !st.Apply.Type.Valid() {
		return fmt.Errorf("invalid apply type %q", st.Apply.Type)
	}
	now := time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	return s.Transaction(func(tx *sql.Tx) error {
		var seq int
		row := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM subtasks WHERE feature_id = ?`, st.FeatureID)
		if err := row.Scan(&seq); err != nil {
			return fmt.Errorf("next subtask seq: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO subtasks (id, feature_id, intent, apply_type, apply_path, state_key, command,
				status, result, error, seq, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, st.FeatureID, st.Intent, string(st.Apply.Type), st.Apply.Path, st.Apply.StateKey,
			st.Command, string(st.Status), st.Result, st.Error, seq,
			formatTime(st.CreatedAt), formatTime(st.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
		return nil
	})
}

const subtaskSelect = `
	SELECT id, feature_id, intent, apply_type, apply_path, state_key, command,
		status, result, error, created_at, updated_at
	FROM subtasks`

// GetSubtask returns the subtask with the given id.
func (s *Store) GetSubtask(id string) (*models.Subtask, error) {
	row := s.QueryRow(subtaskSelect+` WHERE id = ?`, id)
	return scanSubtask(row)
}

// GetSubtasksByFeature returns the feature's subtasks in creation order.
func (s *Store) GetSubtasksByFeature(featureID string) ([]*models.Subtask, error) {
	rows, err := s.Query(subtaskSelect+` WHERE feature_id = ? ORDER BY seq ASC`, featureID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetNextPendingSubtask returns the earliest created pending subtask for the
// feature, or ErrNotFound if none remain.
func (s *Store) GetNextPendingSubtask(featureID string) (*models.Subtask, error) {
	row := s.QueryRow(subtaskSelect+`
		WHERE feature_id = ? AND status = 'pending' ORDER BY seq ASC LIMIT 1
	`, featureID)
	return scanSubtask(row)
}

// SetSubtaskStatus transitions a subtask's status with optional result and
// error payloads.
func (s *Store) SetSubtaskStatus(id string, status models.SubtaskStatus, result, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid subtask status %q", status)
	}
	res, err := s.Exec(`
		UPDATE subtasks SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), result, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set subtask status: %w", err)
	}
	return requireAffected(res)
}

// ResetIncompleteSubtasks resets every non-completed subtask of the feature
// back to pending, clearing result and error. Completed subtasks are left
// intact so a retry resumes from the failure point.
func (s *Store) ResetIncompleteSubtasks(featureID string) error {
	_, err := s.Exec(`
		UPDATE subtasks SET status = 'pending', result = '', error = '', updated_at = ?
		WHERE feature_id = ? AND status != 'completed'
	`, formatTime(time.Now()), featureID)
	if err != nil {
		return fmt.Errorf("reset subtasks: %w", err)
	}
	return nil
}

// DeleteSubtask removes a subtask.
func (s *Store) DeleteSubtask(id string) error {
	res, err := s.Exec(`DELETE FROM subtasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return requireAffected(res)
}

func scanSubtask(sc scanner) (*models.Subtask, error) {
	var st models.Subtask
	var applyType, applyPath, stateKey, command, result, errMsg sql.NullString
	var status, createdAt, updatedAt string

	err := sc.Scan(&st.ID, &st.FeatureID, &st.Intent, &applyType, &applyPath, &stateKey,
		&command, &status, &result, &errMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subtask: %w", err)
	}

	st.Apply = models.Apply{
		Type:     models.ApplyType(applyType.String),
		Path:     applyPath.String,
		StateKey: stateKey.String,
	}
	st.Command = command.String
	st.Status = models.SubtaskStatus(status)
	st.Result = result.String
	st.Error = errMsg.String
	st.CreatedAt, _ = parseTime(createdAt)
	st.UpdatedAt, _ = parseTime(updatedAt)
	return &st, nil
}
