// Package task implements task and project workflows: CRUD, date-based
// views, status transitions that open and close stall records, and the
// completion flow that feeds execution history.
package task

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/store"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var validStatuses = map[string]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusBlocked:    true,
	StatusCompleted:  true,
	StatusCancelled:  true,
}

var validPriorities = map[string]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// Recorder captures an execution snapshot when a task finishes.
type Recorder interface {
	RecordAsync(userID, taskID string, abandoned bool)
}

// Notifier posts task lifecycle events to an external channel.
// Implementations swallow their own failures.
type Notifier interface {
	TaskCompleted(ctx context.Context, task *store.Task)
}

// Service owns task and project workflows.
type Service struct {
	store    *store.Store
	clock    clock.Clock
	recorder Recorder // nil disables history snapshots
	notifier Notifier // nil disables notifications
	logger   zerolog.Logger
}

// NewService creates a task service. recorder and notifier may be nil.
func NewService(st *store.Store, clk clock.Clock, recorder Recorder, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		clock:    clk,
		recorder: recorder,
		notifier: notifier,
		logger:   logger.With().Str("component", "task").Logger(),
	}
}
