package insight

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/metrics"
	"github.com/daybook-hq/daybook/internal/store"
)

// Task outcomes.
const (
	OutcomeOnTime    = "on_time"
	OutcomeLate      = "late"
	OutcomeAbandoned = "abandoned"
)

// StallPoint is one stall event in a history snapshot.
type StallPoint struct {
	Reason  string `json:"reason"`
	Minutes int    `json:"minutes"`
}

// Recorder captures execution snapshots when tasks complete. Snapshots
// feed the similarity engine, so only tasks that went through AI
// enrichment are recorded; purely manual tasks stay out of the corpus.
type Recorder struct {
	store   *store.Store
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(st *store.Store, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   st,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("component", "recorder").Logger(),
	}
}

// Record computes and persists the completion snapshot for a task.
// Returns nil without error when the task is not tracked (no accepted
// enrichment proposal) or a snapshot already exists.
func (r *Recorder) Record(userID, taskID string, abandoned bool) (*store.History, error) {
	task, err := r.store.GetTask(userID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	proposal, err := r.store.GetAcceptedProposal(taskID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		r.logger.Debug().Str("task", taskID).Msg("no accepted enrichment proposal, skipping snapshot")
		return nil, nil
	}

	completedAt := task.CompletedAt
	if completedAt == 0 {
		completedAt = r.clock.Now().UnixMilli()
	}

	stalls, err := r.store.ListStalls(taskID)
	if err != nil {
		return nil, err
	}
	stats, err := r.store.CountSubtasks(taskID, task.StartedAt)
	if err != nil {
		return nil, err
	}

	var ratio *float64
	if task.EstimatedMinutes > 0 && task.ActualMinutes > 0 {
		v := float64(task.ActualMinutes) / float64(task.EstimatedMinutes)
		ratio = &v
	}

	overdue := daysOverdue(completedAt, task.DueDate)

	events, totalMinutes := stallPoints(stalls, completedAt)
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stall events: %w", err)
	}

	fingerprint := Fingerprint(task.Title, task.Description)
	fingerprintJSON, err := json.Marshal(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	addedJSON, err := json.Marshal(stats.AddedTitles)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subtask titles: %w", err)
	}

	category := task.Category
	if category == "" {
		category = Classify(fingerprint)
	}

	h := &store.History{
		ID:                 store.NewID(),
		TaskID:             taskID,
		UserID:             userID,
		Title:              task.Title,
		Category:           category,
		EstimatedMinutes:   task.EstimatedMinutes,
		ActualMinutes:      task.ActualMinutes,
		EstimateRatio:      ratio,
		DaysOverdue:        overdue,
		Outcome:            classifyOutcome(abandoned, overdue),
		SubtasksTotal:      stats.Total,
		SubtasksCompleted:  stats.Completed,
		SubtasksAddedLate:  stats.AddedAfterStart,
		StallCount:         len(events),
		StallMinutes:       totalMinutes,
		StallEvents:        string(eventsJSON),
		AddedSubtaskTitles: string(addedJSON),
		Fingerprint:        string(fingerprintJSON),
		CompletedAt:        completedAt,
	}

	inserted, err := r.store.InsertHistory(h)
	if err != nil {
		return nil, err
	}
	if !inserted {
		r.logger.Debug().Str("task", taskID).Msg("snapshot already recorded")
		return nil, nil
	}

	r.metrics.RecordHistory(h.Outcome)
	r.logger.Info().
		Str("task", taskID).
		Str("outcome", h.Outcome).
		Int("stalls", h.StallCount).
		Msg("execution snapshot recorded")
	return h, nil
}

// RecordAsync runs Record in the background. Recording is best-effort:
// failures are logged and never reach the caller.
func (r *Recorder) RecordAsync(userID, taskID string, abandoned bool) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().Interface("panic", rec).Str("task", taskID).Msg("snapshot recording panicked")
			}
		}()
		if _, err := r.Record(userID, taskID, abandoned); err != nil {
			r.metrics.RecordError("recorder", "record")
			r.logger.Error().Err(err).Str("task", taskID).Msg("failed to record execution snapshot")
		}
	}()
}

// daysOverdue reports how many whole days past the due date the task
// finished, or nil when it had no due date. Finishing early counts as 0.
func daysOverdue(completedAt, dueDate int64) *int {
	if dueDate == 0 {
		return nil
	}
	c := time.UnixMilli(completedAt).UTC()
	d := time.UnixMilli(dueDate).UTC()
	cDay := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
	dDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)

	days := int(cDay.Sub(dDay).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}

func classifyOutcome(abandoned bool, overdue *int) string {
	switch {
	case abandoned:
		return OutcomeAbandoned
	case overdue != nil && *overdue > 0:
		return OutcomeLate
	default:
		return OutcomeOnTime
	}
}

// stallPoints converts stall rows into events. A stall still open at
// completion is treated as ending then.
func stallPoints(stalls []*store.Stall, completedAt int64) ([]StallPoint, int) {
	events := make([]StallPoint, 0, len(stalls))
	total := 0
	for _, st := range stalls {
		end := st.EndedAt
		if end == 0 {
			end = completedAt
		}
		minutes := int((end - st.StartedAt) / 60000)
		if minutes < 0 {
			minutes = 0
		}
		events = append(events, StallPoint{Reason: st.Reason, Minutes: minutes})
		total += minutes
	}
	return events, total
}
