package store

import (
	"database/sql"
	"fmt"
	"time"
)

// History is an immutable execution snapshot recorded when a task completes.
// One row per task; never updated afterwards.
type History struct {
	ID                 string
	TaskID             string
	UserID             string
	Title              string
	Category           string
	EstimatedMinutes   int      // 0 = no estimate
	ActualMinutes      int      // 0 = not recorded
	EstimateRatio      *float64 // nil when estimate or actual is missing
	DaysOverdue        *int     // nil when the task had no due date; 0 = on time
	Outcome            string   // on_time, late, abandoned
	SubtasksTotal      int
	SubtasksCompleted  int
	SubtasksAddedLate  int
	StallCount         int
	StallMinutes       int
	StallEvents        string // JSON array of {reason, minutes}
	AddedSubtaskTitles string // JSON array
	Fingerprint        string // JSON array of keyword tokens
	CompletedAt        int64  // unix ms
	CreatedAt          int64  // unix ms
}

const historyColumns = `id, task_id, user_id, title, category, estimated_minutes, actual_minutes,
       estimate_ratio, days_overdue, outcome, subtasks_total, subtasks_completed,
       subtasks_added_late, stall_count, stall_minutes, stall_events,
       added_subtask_titles, fingerprint, completed_at, created_at`

// InsertHistory records a history row once per task. Returns false without
// error when a row for the task already exists.
func (s *Store) InsertHistory(h *History) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.CreatedAt == 0 {
		h.CreatedAt = time.Now().UnixMilli()
	}
	if h.StallEvents == "" {
		h.StallEvents = "[]"
	}
	if h.AddedSubtaskTitles == "" {
		h.AddedSubtaskTitles = "[]"
	}
	if h.Fingerprint == "" {
		h.Fingerprint = "[]"
	}

	var ratio sql.NullFloat64
	if h.EstimateRatio != nil {
		ratio = sql.NullFloat64{Float64: *h.EstimateRatio, Valid: true}
	}
	var overdue sql.NullInt64
	if h.DaysOverdue != nil {
		overdue = sql.NullInt64{Int64: int64(*h.DaysOverdue), Valid: true}
	}

	query := `
	INSERT OR IGNORE INTO execution_history (` + historyColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		h.ID, h.TaskID, h.UserID, h.Title, nullStr(h.Category),
		nullIntN(h.EstimatedMinutes), nullIntN(h.ActualMinutes),
		ratio, overdue, h.Outcome,
		h.SubtasksTotal, h.SubtasksCompleted, h.SubtasksAddedLate,
		h.StallCount, h.StallMinutes, h.StallEvents,
		h.AddedSubtaskTitles, h.Fingerprint, h.CompletedAt, h.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetHistoryByTask retrieves the history row for one task, or nil
func (s *Store) GetHistoryByTask(userID, taskID string) (*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+historyColumns+` FROM execution_history WHERE task_id = ? AND user_id = ?`, taskID, userID)
	h, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return h, nil
}

// ListHistory retrieves a user's history rows, most recently completed first
func (s *Store) ListHistory(userID string, limit int) ([]*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + historyColumns + ` FROM execution_history WHERE user_id = ? ORDER BY completed_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var histories []*History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

func scanHistory(row rowScanner) (*History, error) {
	h := &History{}
	var category sql.NullString
	var estMinutes, actMinutes, overdue sql.NullInt64
	var ratio sql.NullFloat64

	err := row.Scan(
		&h.ID, &h.TaskID, &h.UserID, &h.Title, &category,
		&estMinutes, &actMinutes, &ratio, &overdue, &h.Outcome,
		&h.SubtasksTotal, &h.SubtasksCompleted, &h.SubtasksAddedLate,
		&h.StallCount, &h.StallMinutes, &h.StallEvents,
		&h.AddedSubtaskTitles, &h.Fingerprint, &h.CompletedAt, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if category.Valid {
		h.Category = category.String
	}
	if estMinutes.Valid {
		h.EstimatedMinutes = int(estMinutes.Int64)
	}
	if actMinutes.Valid {
		h.ActualMinutes = int(actMinutes.Int64)
	}
	if ratio.Valid {
		v := ratio.Float64
		h.EstimateRatio = &v
	}
	if overdue.Valid {
		v := int(overdue.Int64)
		h.DaysOverdue = &v
	}
	return h, nil
}
