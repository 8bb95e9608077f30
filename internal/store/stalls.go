package store

import (
	"database/sql"
	"fmt"
)

// Stall records an interval a task spent blocked
type Stall struct {
	ID        string
	TaskID    string
	Reason    string
	StartedAt int64 // unix ms
	EndedAt   int64 // unix ms, 0 = still open
}

// OpenStall records the start of a blocked interval
func (s *Store) OpenStall(st *Stall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO task_stalls (id, task_id, reason, started_at, ended_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, st.ID, st.TaskID, st.Reason, st.StartedAt, nullInt(st.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to open stall: %w", err)
	}
	return nil
}

// CloseOpenStalls ends any open stall intervals for a task
func (s *Store) CloseOpenStalls(taskID string, endedAt int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`UPDATE task_stalls SET ended_at = ? WHERE task_id = ? AND ended_at IS NULL`, endedAt, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to close stalls: %w", err)
	}
	return result.RowsAffected()
}

// ListStalls retrieves all stall intervals for a task, oldest first
func (s *Store) ListStalls(taskID string) ([]*Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, task_id, reason, started_at, ended_at FROM task_stalls WHERE task_id = ? ORDER BY started_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalls: %w", err)
	}
	defer rows.Close()

	var stalls []*Stall
	for rows.Next() {
		st := &Stall{}
		var endedAt sql.NullInt64
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Reason, &st.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stall: %w", err)
		}
		if endedAt.Valid {
			st.EndedAt = endedAt.Int64
		}
		stalls = append(stalls, st)
	}
	return stalls, rows.Err()
}
