package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Project represents a task grouping in the database
type Project struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Color       string
	CreatedAt   int64 // unix ms
	UpdatedAt   int64 // unix ms
}

// CreateProject inserts a new project
func (s *Store) CreateProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = now
	}

	query := `
	INSERT INTO projects (id, user_id, name, description, color, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, p.ID, p.UserID, p.Name, p.Description, p.Color, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project owned by userID, or nil if absent
func (s *Store) GetProject(userID, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &Project{}
	query := `
	SELECT id, user_id, name, description, color, created_at, updated_at
	FROM projects WHERE id = ? AND user_id = ?
	`
	err := s.db.QueryRow(query, id, userID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description, &p.Color, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects retrieves all projects owned by userID, newest first
func (s *Store) ListProjects(userID string) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, user_id, name, description, color, created_at, updated_at
	FROM projects WHERE user_id = ? ORDER BY created_at DESC
	`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Color, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// UpdateProject updates name, description and color
func (s *Store) UpdateProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	UPDATE projects SET name = ?, description = ?, color = ?, updated_at = ?
	WHERE id = ? AND user_id = ?
	`
	result, err := s.db.Exec(query, p.Name, p.Description, p.Color, time.Now().UnixMilli(), p.ID, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

// DeleteProject removes a project and detaches its tasks
func (s *Store) DeleteProject(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE tasks SET project_id = NULL WHERE project_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to detach tasks: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET project_id = NULL WHERE project_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to detach conversations: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM projects WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found: %s", id)
	}

	return tx.Commit()
}

// CountProjectTasks returns total and completed task counts for a project
func (s *Store) CountProjectTasks(userID, projectID string) (total, completed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
	FROM tasks WHERE project_id = ? AND user_id = ?
	`
	if err := s.db.QueryRow(query, projectID, userID).Scan(&total, &completed); err != nil {
		return 0, 0, fmt.Errorf("failed to count project tasks: %w", err)
	}
	return total, completed, nil
}
