package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// CreateProject persists a new project. A missing ID is generated; status
// defaults to created.
func (s *Store) CreateProject(p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusCreated
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid project status %q", p.Status)
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.Exec(`
		INSERT INTO projects (id, name, description, folder_path, models, project_type, status, bootstrapped, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.FolderPath, marshalJSON(p.Models), p.ProjectType,
		string(p.Status), boolToInt(p.Bootstrapped), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(id string) (*models.Project, error) {
	row := s.QueryRow(`
		SELECT id, name, description, folder_path, models, project_type, status, bootstrapped, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects() ([]*models.Project, error) {
	rows, err := s.Query(`
		SELECT id, name, description, folder_path, models, project_type, status, bootstrapped, created_at, updated_at
		FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject persists changes to an existing project.
func (s *Store) UpdateProject(p *models.Project) error {
	if !p.Status.Valid() {
		return fmt.Errorf("invalid project status %q", p.Status)
	}
	p.UpdatedAt = time.Now()
	res, err := s.Exec(`
		UPDATE projects SET name = ?, description = ?, folder_path = ?, models = ?, project_type = ?,
			status = ?, bootstrapped = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.FolderPath, marshalJSON(p.Models), p.ProjectType,
		string(p.Status), boolToInt(p.Bootstrapped), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(res)
}

// DeleteProject archives and removes a project. The cascade removes its
// features, subtasks, events, and usage rows, plus the project folder on disk
// when removeFolder is set.
func (s *Store) DeleteProject(id string, removeFolder bool) error {
	p, err := s.GetProject(id)
	if err != nil {
		return err
	}

	err = s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM events WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM model_usage WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete usage: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM model_usage_by_role WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete usage by role: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM wizard_messages WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete wizard messages: %w", err)
		}
		// Features and subtasks cascade via foreign keys.
		if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if removeFolder && p.FolderPath != "" {
		if err := os.RemoveAll(p.FolderPath); err != nil {
			return fmt.Errorf("remove project folder: %w", err)
		}
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (*models.Project, error) {
	var p models.Project
	var desc, modelsBlob, ptype sql.NullString
	var status, createdAt, updatedAt string
	var bootstrapped int

	err := sc.Scan(&p.ID, &p.Name, &desc, &p.FolderPath, &modelsBlob, &ptype, &status, &bootstrapped, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	p.Description = desc.String
	p.ProjectType = ptype.String
	p.Status = models.ProjectStatus(status)
	p.Bootstrapped = bootstrapped != 0
	if modelsBlob.Valid {
		// Defensive parse: a malformed blob leaves the zero bindings.
		var b models.ModelBindings
		if m := unmarshalMap(modelsBlob.String); m != nil {
			b.Planner, _ = m["planner"].(string)
			b.Executor, _ = m["executor"].(string)
			b.Voter, _ = m["voter"].(string)
		}
		p.Models = b
	}
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireAffected converts a zero-row update into ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
