package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskContext represents one version of an AI artifact attached to a task
type TaskContext struct {
	ID             string
	TaskID         string
	UserID         string
	Type           string // research, draft, outline, summary, suggestion, note
	Title          string
	Content        string
	Metadata       string // JSON, "" = none
	ConversationID string // "" = not produced by a conversation
	Version        int
	IsCurrent      bool
	CreatedAt      int64 // unix ms
	UpdatedAt      int64 // unix ms
}

const contextColumns = `id, task_id, user_id, type, title, content, metadata,
       conversation_id, version, is_current, created_at, updated_at`

// SaveContext inserts a new current version for (task, type), superseding the
// previous current row in the same transaction. The partial unique index on
// (task_id, type) WHERE is_current=1 rejects any second current row.
func (s *Store) SaveContext(tc *TaskContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if tc.CreatedAt == 0 {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
	UPDATE task_contexts SET is_current = 0, updated_at = ?
	WHERE task_id = ? AND type = ? AND is_current = 1
	`, now, tc.TaskID, tc.Type); err != nil {
		return fmt.Errorf("failed to supersede context: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRow(`
	SELECT COALESCE(MAX(version), 0) FROM task_contexts WHERE task_id = ? AND type = ?
	`, tc.TaskID, tc.Type).Scan(&maxVersion); err != nil {
		return fmt.Errorf("failed to read max version: %w", err)
	}
	tc.Version = maxVersion + 1
	tc.IsCurrent = true

	if _, err := tx.Exec(`
	INSERT INTO task_contexts (`+contextColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		tc.ID, tc.TaskID, tc.UserID, tc.Type, tc.Title, tc.Content,
		nullStr(tc.Metadata), nullStr(tc.ConversationID),
		tc.Version, tc.CreatedAt, tc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert context: %w", err)
	}

	return tx.Commit()
}

// ContextFilter for listing task contexts
type ContextFilter struct {
	TaskID      string
	Type        string // "" = all types
	CurrentOnly bool
}

// ListContexts retrieves artifact rows for a task, newest activity first
func (s *Store) ListContexts(userID string, f ContextFilter) ([]*TaskContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + contextColumns + ` FROM task_contexts WHERE task_id = ? AND user_id = ?`
	args := []interface{}{f.TaskID, userID}

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.CurrentOnly {
		query += ` AND is_current = 1`
	}
	query += ` ORDER BY updated_at DESC, version DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var contexts []*TaskContext
	for rows.Next() {
		tc, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		contexts = append(contexts, tc)
	}
	return contexts, rows.Err()
}

// GetCurrentContext returns the current artifact of a type for a task, or nil
func (s *Store) GetCurrentContext(taskID, ctype string) (*TaskContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
	SELECT `+contextColumns+` FROM task_contexts
	WHERE task_id = ? AND type = ? AND is_current = 1
	`, taskID, ctype)
	tc, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current context: %w", err)
	}
	return tc, nil
}

func scanContext(row rowScanner) (*TaskContext, error) {
	tc := &TaskContext{}
	var metadata, conversationID sql.NullString
	var isCurrent int

	err := row.Scan(
		&tc.ID, &tc.TaskID, &tc.UserID, &tc.Type, &tc.Title, &tc.Content,
		&metadata, &conversationID, &tc.Version, &isCurrent,
		&tc.CreatedAt, &tc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadata.Valid {
		tc.Metadata = metadata.String
	}
	if conversationID.Valid {
		tc.ConversationID = conversationID.String
	}
	tc.IsCurrent = isCurrent == 1
	return tc, nil
}
