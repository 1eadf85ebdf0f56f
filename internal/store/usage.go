package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// RecordModelUsage adds a call's token counts and cost to the
// (project, model) aggregate, creating the row on first use.
func (s *Store) RecordModelUsage(projectID, model string, u models.TokenUsage, cost float64) error {
	_, err := s.Exec(`
		INSERT INTO model_usage (project_id, model, input_tokens, output_tokens, total_tokens, calls, cost)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(project_id, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			total_tokens = total_tokens + excluded.total_tokens,
			calls = calls + 1,
			cost = cost + excluded.cost
	`, projectID, model, u.InputTokens, u.OutputTokens, u.TotalTokens, cost)
	if err != nil {
		return fmt.Errorf("upsert model usage: %w", err)
	}
	return nil
}

// RecordModelUsageByRole adds a call's token counts and cost to the
// (project, role, model) aggregate, creating the row on first use.
func (s *Store) RecordModelUsageByRole(projectID string, role models.Role, model string, u models.TokenUsage, cost float64) error {
	if !role.Valid() {
		return fmt.Errorf("invalid usage role %q", role)
	}
	_, err := s.Exec(`
		INSERT INTO model_usage_by_role (project_id, role, model, input_tokens, output_tokens, total_tokens, calls, cost)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(project_id, role, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			total_tokens = total_tokens + excluded.total_tokens,
			calls = calls + 1,
			cost = cost + excluded.cost
	`, projectID, string(role), model, u.InputTokens, u.OutputTokens, u.TotalTokens, cost)
	if err != nil {
		return fmt.Errorf("upsert model usage by role: %w", err)
	}
	return nil
}

// GetModelUsage returns the (project, model) aggregate, or ErrNotFound.
func (s *Store) GetModelUsage(projectID, model string) (*models.UsageAggregate, error) {
	row := s.QueryRow(`
		SELECT project_id, model, input_tokens, output_tokens, total_tokens, calls, cost
		FROM model_usage WHERE project_id = ? AND model = ?
	`, projectID, model)

	var agg models.UsageAggregate
	err := row.Scan(&agg.ProjectID, &agg.Model, &agg.InputTokens, &agg.OutputTokens,
		&agg.TotalTokens, &agg.Calls, &agg.Cost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage: %w", err)
	}
	return &agg, nil
}

// GetUsageByProject returns every (project, role, model) aggregate row for
// the project.
func (s *Store) GetUsageByProject(projectID string) ([]*models.UsageAggregate, error) {
	rows, err := s.Query(`
		SELECT project_id, role, model, input_tokens, output_tokens, total_tokens, calls, cost
		FROM model_usage_by_role WHERE project_id = ? ORDER BY role, model
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageAggregate
	for rows.Next() {
		var agg models.UsageAggregate
		var role string
		if err := rows.Scan(&agg.ProjectID, &role, &agg.Model, &agg.InputTokens,
			&agg.OutputTokens, &agg.TotalTokens, &agg.Calls, &agg.Cost); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		agg.Role = models.Role(role)
		out = append(out, &agg)
	}
	return out, rows.Err()
}
