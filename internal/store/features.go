package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in a feature graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrSelfDependency indicates a feature depending on itself.
var ErrSelfDependency = errors.New("feature cannot depend on itself")

// CreateFeature persists a new feature. A missing ID is generated; status
// defaults to pending and priority to B. Dependencies are validated against
// the project's existing graph.
func (s *Store) CreateFeature(f *models.Feature) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = models.FeatureStatusPending
	}
	if f.Priority == "" {
		f.Priority = models.PriorityB
	}
	if !f.Status.Valid() {
		return fmt.Errorf("invalid feature status %q", f.Status)
	}
	if !f.Priority.Valid() {
		return fmt.Errorf("invalid feature priority %q", f.Priority)
	}
	if len(f.DependsOn) > 0 {
		if err := s.ValidateDependencies(f.ProjectID, f.ID, f.DependsOn); err != nil {
			return err
		}
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := s.Exec(`
		INSERT INTO features (id, project_id, name, description, priority, status, depends_on,
			definition_of_done, technical_summary, order_index, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ProjectID, f.Name, f.Description, string(f.Priority), string(f.Status),
		marshalJSON(f.DependsOn), f.DefinitionOfDone, f.TechnicalSummary, f.OrderIndex,
		f.Error, formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert feature: %w", err)
	}
	return nil
}

// GetFeature returns the feature with the given id.
func (s *Store) GetFeature(id string) (*models.Feature, error) {
	row := s.QueryRow(featureSelect+` WHERE id = ?`, id)
	return scanFeature(row)
}

const featureSelect = `
	SELECT id, project_id, name, description, priority, status, depends_on,
		definition_of_done, technical_summary, order_index, error, created_at, updated_at
	FROM features`

// GetFeaturesByProject returns the project's features ordered by priority
// (A before B before C), then order_index ascending.
func (s *Store) GetFeaturesByProject(projectID string) ([]*models.Feature, error) {
	rows, err := s.Query(featureSelect+`
		WHERE project_id = ?
		ORDER BY CASE priority WHEN 'A' THEN 0 WHEN 'B' THEN 1 ELSE 2 END, order_index ASC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	var out []*models.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFeature persists changes to an existing feature. Dependency edits are
// validated against the rest of the project's graph.
func (s *Store) UpdateFeature(f *models.Feature) error {
	if !f.Status.Valid() {
		return fmt.Errorf("invalid feature status %q", f.Status)
	}
	if len(f.DependsOn) > 0 {
		if err := s.ValidateDependencies(f.ProjectID, f.ID, f.DependsOn); err != nil {
			return err
		}
	}
	f.UpdatedAt = time.Now()
	res, err := s.Exec(`
		UPDATE features SET name = ?, description = ?, priority = ?, status = ?, depends_on = ?,
			definition_of_done = ?, technical_summary = ?, order_index = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, f.Name, f.Description, string(f.Priority), string(f.Status), marshalJSON(f.DependsOn),
		f.DefinitionOfDone, f.TechnicalSummary, f.OrderIndex, f.Error, formatTime(f.UpdatedAt), f.ID)
	if err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	return requireAffected(res)
}

// SetFeatureStatus transitions a feature's status and optional error message.
// The write is durable before the caller emits the corresponding event.
func (s *Store) SetFeatureStatus(id string, status models.FeatureStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid feature status %q", status)
	}
	res, err := s.Exec(`
		UPDATE features SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set feature status: %w", err)
	}
	return requireAffected(res)
}

// DeleteFeature removes a feature and its subtasks.
func (s *Store) DeleteFeature(id string) error {
	res, err := s.Exec(`DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feature: %w", err)
	}
	return requireAffected(res)
}

// ReorderFeatures applies an id → order_index mapping atomically: either
// every feature in the mapping is updated or none are.
func (s *Store) ReorderFeatures(projectID string, order map[string]int) error {
	return s.Transaction(func(tx *sql.Tx) error {
		for id, idx := range order {
			res, err := tx.Exec(`
				UPDATE features SET order_index = ?, updated_at = ? WHERE id = ? AND project_id = ?
			`, idx, formatTime(time.Now()), id, projectID)
			if err != nil {
				return fmt.Errorf("reorder feature %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("reorder feature %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// AreDependenciesMet returns true when every dependency of the feature has a
// status that satisfies the edge (completed or verified).
func (s *Store) AreDependenciesMet(featureID string) (bool, error) {
	f, err := s.GetFeature(featureID)
	if err != nil {
		return false, err
	}
	if len(f.DependsOn) == 0 {
		return true, nil
	}
	siblings, err := s.GetFeaturesByProject(f.ProjectID)
	if err != nil {
		return false, err
	}
	byID := make(map[string]*models.Feature, len(siblings))
	for _, sib := range siblings {
		byID[sib.ID] = sib
	}
	for _, depID := range f.DependsOn {
		dep, ok := byID[depID]
		if !ok || !dep.Status.Satisfied() {
			return false, nil
		}
	}
	return true, nil
}

// ValidateDependencies checks a proposed dependency set for the feature.
// It rejects self-dependencies and any edge set whose transitive closure over
// the existing graph (union the proposed edges) reaches the feature itself.
func (s *Store) ValidateDependencies(projectID, featureID string, deps []string) error {
	for _, d := range deps {
		if d == featureID {
			return ErrSelfDependency
		}
	}

	existing, err := s.GetFeaturesByProject(projectID)
	if err != nil {
		return err
	}

	// Edges of the graph with the proposed set substituted in.
	edges := make(map[string][]string, len(existing)+1)
	for _, f := range existing {
		if f.ID == featureID {
			continue
		}
		edges[f.ID] = f.DependsOn
	}
	edges[featureID] = deps

	// DFS from the proposed dependencies; reaching featureID closes a cycle.
	visited := make(map[string]bool)
	var reach func(id string) bool
	reach = func(id string) bool {
		if id == featureID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, next := range edges[id] {
			if reach(next) {
				return true
			}
		}
		return false
	}
	for _, d := range deps {
		if reach(d) {
			return ErrCycleDetected
		}
	}
	return nil
}

// ResetRunningFeatures moves every running feature to the given status.
// Called on startup: after a crash no feature may remain in running.
// Returns the ids of the features that were reset.
func (s *Store) ResetRunningFeatures(to models.FeatureStatus) ([]string, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("invalid feature status %q", to)
	}
	rows, err := s.Query(`SELECT id FROM features WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("query running features: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan feature id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.SetFeatureStatus(id, to, ""); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func scanFeature(sc scanner) (*models.Feature, error) {
	var f models.Feature
	var desc, deps, dod, summary, errMsg sql.NullString
	var priority, status, createdAt, updatedAt string

	err := sc.Scan(&f.ID, &f.ProjectID, &f.Name, &desc, &priority, &status, &deps,
		&dod, &summary, &f.OrderIndex, &errMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feature: %w", err)
	}

	f.Description = desc.String
	f.Priority = models.Priority(priority)
	f.Status = models.FeatureStatus(status)
	f.DependsOn = unmarshalStrings(deps.String)
	f.DefinitionOfDone = dod.String
	f.TechnicalSummary = summary.String
	f.Error = errMsg.String
	f.CreatedAt, _ = parseTime(createdAt)
	f.UpdatedAt, _ = parseTime(updatedAt)
	return &f, nil
}
