package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// CreateRun records a run snapshot row and returns its id.
func (s *Store) CreateRun(projectID, featureID, title string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(`
		INSERT INTO runs (id, project_id, feature_id, title, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, projectID, featureID, title, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// CreateStep records a step snapshot with the prompt and voting config used,
// and returns the step id.
func (s *Store) CreateStep(runID, subtaskID, prompt string, config any) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(`
		INSERT INTO steps (id, run_id, subtask_id, prompt, config, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'running', ?)
	`, id, runID, subtaskID, prompt, marshalJSON(config), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("insert step: %w", err)
	}
	return id, nil
}

// FinishStep marks a step completed or failed.
func (s *Store) FinishStep(stepID, status, errMsg string) error {
	res, err := s.Exec(`UPDATE steps SET status = ?, error = ? WHERE id = ?`, status, errMsg, stepID)
	if err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	return requireAffected(res)
}

// RecordVotes persists every candidate of a voting round, flagged ones
// included, with their sample and temperature metadata.
func (s *Store) RecordVotes(stepID string, candidates []models.Candidate, winner string, hasWinner bool) error {
	for _, c := range candidates {
		isWinner := 0
		if hasWinner && !c.Flagged() && c.Output == winner {
			isWinner = 1
		}
		_, err := s.Exec(`
			INSERT INTO votes (step_id, sample_index, model, temperature, output, red_flags, votes, is_winner, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, stepID, c.SampleIndex, c.Model, c.Temperature, c.Output,
			marshalJSON(c.RedFlags), c.Votes, isWinner, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
	}
	return nil
}

// RecordAction persists one executed action in the audit log.
func (s *Store) RecordAction(stepID, kind, path string, ok bool, detail string) error {
	_, err := s.Exec(`
		INSERT INTO actions (step_id, kind, path, ok, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stepID, kind, path, boolToInt(ok), detail, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// CountActionsByStep returns how many actions were recorded for a step.
func (s *Store) CountActionsByStep(stepID string) (int, error) {
	var n int
	row := s.QueryRow(`SELECT COUNT(*) FROM actions WHERE step_id = ?`, stepID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}
