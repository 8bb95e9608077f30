package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Task represents a task in the database
type Task struct {
	ID               string
	UserID           string
	ProjectID        string // "" = no project
	ParentID         string // "" = top-level task
	Title            string
	Description      string
	Status           string // pending, in_progress, blocked, completed, cancelled
	Priority         string // low, medium, high, urgent
	Category         string // "" = uncategorized
	DueDate          int64  // unix ms, 0 = no due date
	EstimatedMinutes int    // 0 = no estimate
	ActualMinutes    int    // 0 = not recorded
	StartedAt        int64  // unix ms, 0 = work not started
	CreatedAt        int64  // unix ms
	UpdatedAt        int64  // unix ms
	CompletedAt      int64  // unix ms, 0 = not completed
}

// TaskFilter for filtering task lists
type TaskFilter struct {
	Status       string
	ProjectID    string
	ParentID     string
	DueBefore    int64 // exclusive upper bound on due_date, 0 = unbounded
	DueAfter     int64 // exclusive lower bound on due_date, 0 = unbounded
	OpenOnly     bool  // exclude completed and cancelled
	TopLevelOnly bool
	Limit        int
}

const taskColumns = `id, user_id, project_id, parent_id, title, description, status, priority,
       category, due_date, estimated_minutes, actual_minutes, started_at,
       created_at, updated_at, completed_at`

// CreateTask inserts a new task
func (s *Store) CreateTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		t.ID, t.UserID,
		nullStr(t.ProjectID), nullStr(t.ParentID),
		t.Title, t.Description, t.Status, t.Priority,
		nullStr(t.Category),
		nullInt(t.DueDate),
		nullIntN(t.EstimatedMinutes), nullIntN(t.ActualMinutes),
		nullInt(t.StartedAt),
		t.CreatedAt, t.UpdatedAt,
		nullInt(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task owned by userID, or nil if absent
func (s *Store) GetTask(userID, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasks retrieves tasks owned by userID matching the filter
func (s *Store) ListTasks(userID string, f TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []interface{}{userID}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, f.ParentID)
	}
	if f.TopLevelOnly {
		query += ` AND parent_id IS NULL`
	}
	if f.OpenOnly {
		query += ` AND status NOT IN ('completed', 'cancelled')`
	}
	if f.DueBefore > 0 {
		query += ` AND due_date IS NOT NULL AND due_date < ?`
		args = append(args, f.DueBefore)
	}
	if f.DueAfter > 0 {
		query += ` AND due_date IS NOT NULL AND due_date > ?`
		args = append(args, f.DueAfter)
	}

	query += ` ORDER BY CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask writes all mutable fields of a task
func (s *Store) UpdateTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.UpdatedAt = time.Now().UnixMilli()

	query := `
	UPDATE tasks SET
		project_id = ?, parent_id = ?, title = ?, description = ?,
		status = ?, priority = ?, category = ?, due_date = ?,
		estimated_minutes = ?, actual_minutes = ?, started_at = ?,
		updated_at = ?, completed_at = ?
	WHERE id = ? AND user_id = ?
	`
	result, err := s.db.Exec(query,
		nullStr(t.ProjectID), nullStr(t.ParentID), t.Title, t.Description,
		t.Status, t.Priority, nullStr(t.Category), nullInt(t.DueDate),
		nullIntN(t.EstimatedMinutes), nullIntN(t.ActualMinutes), nullInt(t.StartedAt),
		t.UpdatedAt, nullInt(t.CompletedAt),
		t.ID, t.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	return nil
}

// DeleteTask removes a task and everything hanging off it
func (s *Store) DeleteTask(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Subtasks become top-level rather than disappearing with the parent.
	if _, err := tx.Exec(`UPDATE tasks SET parent_id = NULL WHERE parent_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to detach subtasks: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET task_id = NULL WHERE task_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("failed to detach conversations: %w", err)
	}
	for _, q := range []string{
		`DELETE FROM task_stalls WHERE task_id = ?`,
		`DELETE FROM enrichment_proposals WHERE task_id = ?`,
		`DELETE FROM task_contexts WHERE task_id = ?`,
		`DELETE FROM execution_history WHERE task_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("failed to delete task children: %w", err)
		}
	}

	result, err := tx.Exec(`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	return tx.Commit()
}

// SubtaskStats summarizes a task's subtasks for history recording
type SubtaskStats struct {
	Total           int
	Completed       int
	AddedAfterStart int
	Titles          []string // all subtask titles, oldest first
	AddedTitles     []string // titles of subtasks created after work began
}

// CountSubtasks gathers subtask statistics for a parent task.
// startedAt bounds the "added after work began" count; 0 counts nothing as late.
func (s *Store) CountSubtasks(parentID string, startedAt int64) (*SubtaskStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &SubtaskStats{}
	query := `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN ? > 0 AND created_at > ? THEN 1 ELSE 0 END), 0)
	FROM tasks WHERE parent_id = ?
	`
	if err := s.db.QueryRow(query, startedAt, startedAt, parentID).Scan(
		&stats.Total, &stats.Completed, &stats.AddedAfterStart,
	); err != nil {
		return nil, fmt.Errorf("failed to count subtasks: %w", err)
	}

	rows, err := s.db.Query(`SELECT title, created_at FROM tasks WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtask titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var title string
		var createdAt int64
		if err := rows.Scan(&title, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan subtask title: %w", err)
		}
		stats.Titles = append(stats.Titles, title)
		if startedAt > 0 && createdAt > startedAt {
			stats.AddedTitles = append(stats.AddedTitles, title)
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var projectID, parentID, category sql.NullString
	var dueDate, startedAt, completedAt sql.NullInt64
	var estMinutes, actMinutes sql.NullInt64

	err := row.Scan(
		&t.ID, &t.UserID, &projectID, &parentID, &t.Title, &t.Description,
		&t.Status, &t.Priority, &category, &dueDate, &estMinutes, &actMinutes,
		&startedAt, &t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectID.Valid {
		t.ProjectID = projectID.String
	}
	if parentID.Valid {
		t.ParentID = parentID.String
	}
	if category.Valid {
		t.Category = category.String
	}
	if dueDate.Valid {
		t.DueDate = dueDate.Int64
	}
	if estMinutes.Valid {
		t.EstimatedMinutes = int(estMinutes.Int64)
	}
	if actMinutes.Valid {
		t.ActualMinutes = int(actMinutes.Int64)
	}
	if startedAt.Valid {
		t.StartedAt = startedAt.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Int64
	}
	return t, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullIntN(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
