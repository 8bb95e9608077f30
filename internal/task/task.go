package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
)

// List views.
const (
	ViewToday    = "today"
	ViewUpcoming = "upcoming"
)

// CreateInput describes a new task.
type CreateInput struct {
	Title            string
	Description      string
	Status           string // default pending
	Priority         string // default medium
	Category         string
	ProjectID        string
	ParentID         string
	DueDate          int64 // unix ms, 0 = none
	EstimatedMinutes int
}

// Create validates and inserts a new task.
func (s *Service) Create(userID string, in CreateInput) (*store.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, apperrors.NewValidationError("title", "is required")
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if !validStatuses[in.Status] {
		return nil, apperrors.NewValidationError("status", "unknown status "+in.Status)
	}
	if in.Status == StatusCompleted || in.Status == StatusCancelled {
		return nil, apperrors.NewValidationError("status", "new tasks cannot start finished")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !validPriorities[in.Priority] {
		return nil, apperrors.NewValidationError("priority", "unknown priority "+in.Priority)
	}
	if in.EstimatedMinutes < 0 {
		return nil, apperrors.NewValidationError("estimatedMinutes", "must not be negative")
	}

	if in.ProjectID != "" {
		project, err := s.store.GetProject(userID, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		if project == nil {
			return nil, apperrors.NotFound("Project")
		}
	}
	if in.ParentID != "" {
		parent, err := s.store.GetTask(userID, in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		if parent == nil {
			return nil, apperrors.NotFound("Task")
		}
	}

	now := s.clock.Now().UnixMilli()
	t := &store.Task{
		ID:               uuid.New().String(),
		UserID:           userID,
		ProjectID:        in.ProjectID,
		ParentID:         in.ParentID,
		Title:            in.Title,
		Description:      in.Description,
		Status:           in.Status,
		Priority:         in.Priority,
		Category:         in.Category,
		DueDate:          in.DueDate,
		EstimatedMinutes: in.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Status == StatusInProgress {
		t.StartedAt = now
	}

	if err := s.store.CreateTask(t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if in.Status == StatusBlocked {
		if err := s.openStall(t.ID, "blocked", now); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("task_id", t.ID).Str("status", t.Status).Msg("task created")
	return t, nil
}

// Get returns a task the caller owns.
func (s *Service) Get(userID, id string) (*store.Task, error) {
	t, err := s.store.GetTask(userID, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t == nil {
		return nil, apperrors.NotFound("Task")
	}
	return t, nil
}

// ListFilter selects tasks for List.
type ListFilter struct {
	View         string // "", "today", "upcoming"
	Status       string
	ProjectID    string
	ParentID     string
	TopLevelOnly bool
	Limit        int
}

// List returns the caller's tasks. The today view covers open tasks due
// by the end of today (overdue included); upcoming covers open tasks
// due later.
func (s *Service) List(userID string, f ListFilter) ([]*store.Task, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, apperrors.NewValidationError("status", "unknown status "+f.Status)
	}

	filter := store.TaskFilter{
		Status:       f.Status,
		ProjectID:    f.ProjectID,
		ParentID:     f.ParentID,
		TopLevelOnly: f.TopLevelOnly,
		Limit:        f.Limit,
	}

	switch f.View {
	case "":
	case ViewToday:
		filter.DueBefore = s.endOfToday() + 1
		filter.OpenOnly = true
	case ViewUpcoming:
		filter.DueAfter = s.endOfToday()
		filter.OpenOnly = true
	default:
		return nil, apperrors.NewValidationError("view", "must be today or upcoming")
	}

	tasks, err := s.store.ListTasks(userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	return tasks, nil
}

// Subtasks returns the direct children of a task the caller owns.
func (s *Service) Subtasks(userID, parentID string) ([]*store.Task, error) {
	if _, err := s.Get(userID, parentID); err != nil {
		return nil, err
	}
	return s.List(userID, ListFilter{ParentID: parentID})
}

// Stalls returns a task's blocked intervals, oldest first.
func (s *Service) Stalls(userID, taskID string) ([]*store.Stall, error) {
	if _, err := s.Get(userID, taskID); err != nil {
		return nil, err
	}
	stalls, err := s.store.ListStalls(taskID)
	if err != nil {
		return nil, fmt.Errorf("list stalls: %w", err)
	}
	if stalls == nil {
		stalls = []*store.Stall{}
	}
	return stalls, nil
}

// UpdateInput carries partial task updates; nil fields are left alone.
type UpdateInput struct {
	Title            *string
	Description      *string
	Status           *string
	Priority         *string
	Category         *string
	ProjectID        *string
	ParentID         *string
	DueDate          *int64
	EstimatedMinutes *int
	ActualMinutes    *int
	BlockedReason    *string // recorded when Status moves to blocked
}

// Update applies a partial update, running status transition side
// effects: first move to in_progress stamps the start time, entering
// blocked opens a stall record, leaving blocked closes it, and a move
// to completed or cancelled runs the full completion flow.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (*store.Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return nil, fmt.Errorf("task already finished: %w", apperrors.ErrConflict)
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("title", "is required")
		}
		t.Title = title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		if !validPriorities[*in.Priority] {
			return nil, apperrors.NewValidationError("priority", "unknown priority "+*in.Priority)
		}
		t.Priority = *in.Priority
	}
	if in.Category != nil {
		t.Category = *in.Category
	}
	if in.DueDate != nil {
		t.DueDate = *in.DueDate
	}
	if in.EstimatedMinutes != nil {
		if *in.EstimatedMinutes < 0 {
			return nil, apperrors.NewValidationError("estimatedMinutes", "must not be negative")
		}
		t.EstimatedMinutes = *in.EstimatedMinutes
	}
	if in.ActualMinutes != nil {
		if *in.ActualMinutes < 0 {
			return nil, apperrors.NewValidationError("actualMinutes", "must not be negative")
		}
		t.ActualMinutes = *in.ActualMinutes
	}
	if in.ProjectID != nil {
		if *in.ProjectID != "" {
			project, err := s.store.GetProject(userID, *in.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("update task: %w", err)
			}
			if project == nil {
				return nil, apperrors.NotFound("Project")
			}
		}
		t.ProjectID = *in.ProjectID
	}
	if in.ParentID != nil {
		if *in.ParentID == id {
			return nil, apperrors.NewValidationError("parentId", "a task cannot be its own parent")
		}
		if *in.ParentID != "" {
			parent, err := s.store.GetTask(userID, *in.ParentID)
			if err != nil {
				return nil, fmt.Errorf("update task: %w", err)
			}
			if parent == nil {
				return nil, apperrors.NotFound("Task")
			}
		}
		t.ParentID = *in.ParentID
	}

	if in.Status == nil || *in.Status == t.Status {
		if err := s.store.UpdateTask(t); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		return t, nil
	}

	newStatus := *in.Status
	if !validStatuses[newStatus] {
		return nil, apperrors.NewValidationError("status", "unknown status "+newStatus)
	}

	if newStatus == StatusCompleted || newStatus == StatusCancelled {
		return s.finish(ctx, t, newStatus == StatusCancelled)
	}

	now := s.clock.Now().UnixMilli()
	wasBlocked := t.Status == StatusBlocked
	t.Status = newStatus

	if newStatus == StatusInProgress && t.StartedAt == 0 {
		t.StartedAt = now
	}
	if err := s.store.UpdateTask(t); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if wasBlocked {
		if _, err := s.store.CloseOpenStalls(id, now); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
	}
	if newStatus == StatusBlocked {
		reason := "blocked"
		if in.BlockedReason != nil && strings.TrimSpace(*in.BlockedReason) != "" {
			reason = strings.TrimSpace(*in.BlockedReason)
		}
		if err := s.openStall(id, reason, now); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("task_id", id).Str("status", newStatus).Msg("task status changed")
	return t, nil
}

// CompleteInput carries completion options.
type CompleteInput struct {
	Abandoned     bool
	ActualMinutes int // 0 = derive from time in progress
}

// Complete finishes a task: stamps actuals, closes open stalls, and
// fires the history snapshot. Abandoned completions land as cancelled.
func (s *Service) Complete(ctx context.Context, userID, id string, in CompleteInput) (*store.Task, error) {
	t, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return nil, fmt.Errorf("task already finished: %w", apperrors.ErrConflict)
	}
	if in.ActualMinutes < 0 {
		return nil, apperrors.NewValidationError("actualMinutes", "must not be negative")
	}
	if in.ActualMinutes > 0 {
		t.ActualMinutes = in.ActualMinutes
	}
	return s.finish(ctx, t, in.Abandoned)
}

// Delete removes a task. Subtasks survive as top-level tasks.
func (s *Service) Delete(userID, id string) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteTask(userID, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// finish persists the terminal state, then kicks off the snapshot and
// notification. The snapshot runs detached; the response never waits on it.
func (s *Service) finish(ctx context.Context, t *store.Task, abandoned bool) (*store.Task, error) {
	now := s.clock.Now().UnixMilli()

	if _, err := s.store.CloseOpenStalls(t.ID, now); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	t.Status = StatusCompleted
	if abandoned {
		t.Status = StatusCancelled
	}
	t.CompletedAt = now
	if t.ActualMinutes == 0 && t.StartedAt > 0 && now > t.StartedAt {
		t.ActualMinutes = int((now - t.StartedAt) / 60_000)
	}

	if err := s.store.UpdateTask(t); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordAsync(t.UserID, t.ID, abandoned)
	}
	if s.notifier != nil && !abandoned {
		s.notifier.TaskCompleted(ctx, t)
	}

	s.logger.Info().
		Str("task_id", t.ID).
		Bool("abandoned", abandoned).
		Int("actual_minutes", t.ActualMinutes).
		Msg("task finished")
	return t, nil
}

func (s *Service) openStall(taskID, reason string, startedAt int64) error {
	err := s.store.OpenStall(&store.Stall{
		ID:        store.NewID(),
		TaskID:    taskID,
		Reason:    reason,
		StartedAt: startedAt,
	})
	if err != nil {
		return fmt.Errorf("open stall: %w", err)
	}
	return nil
}

// endOfToday returns the last millisecond of the current UTC day.
func (s *Service) endOfToday() int64 {
	now := s.clock.Now().UTC()
	eod := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999_000_000, time.UTC)
	return eod.UnixMilli()
}
