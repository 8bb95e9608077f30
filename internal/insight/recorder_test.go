package insight

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/metrics"
	"github.com/daybook-hq/daybook/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store, *clock.Fake) {
	st := newTestStore(t)
	fake := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	rec := NewRecorder(st, fake, metrics.New(), zerolog.New(os.Stderr))
	return rec, st, fake
}

func acceptProposal(t *testing.T, st *store.Store, userID, taskID string) {
	t.Helper()
	p := &store.Proposal{
		ID: "prop-" + taskID, TaskID: taskID, UserID: userID,
		Status: store.ProposalProposed, EstimatedMinutes: 60,
	}
	require.NoError(t, st.CreateProposal(p))
	require.NoError(t, st.SetProposalStatus(userID, p.ID, store.ProposalAccepted))
}

func TestRecord_SkipsWithoutAcceptedProposal(t *testing.T) {
	rec, st, fake := newTestRecorder(t)
	userID := seedUser(t, st, "gate@example.com")

	task := &store.Task{
		ID: "t-gate", UserID: userID, Title: "Untracked task",
		Status: "completed", Priority: "medium", CompletedAt: fake.Now().UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))

	h, err := rec.Record(userID, "t-gate", false)
	require.NoError(t, err)
	assert.Nil(t, h, "tasks without AI enrichment stay out of the corpus")

	stored, err := st.GetHistoryByTask(userID, "t-gate")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRecord_FullSnapshot(t *testing.T) {
	rec, st, fake := newTestRecorder(t)
	userID := seedUser(t, st, "snap@example.com")
	now := fake.Now()

	due := now.Add(-72 * time.Hour).UnixMilli() // three days overdue
	started := now.Add(-96 * time.Hour).UnixMilli()
	task := &store.Task{
		ID: "t-snap", UserID: userID, Title: "Write launch blog post",
		Status: "completed", Priority: "high",
		EstimatedMinutes: 60, ActualMinutes: 90,
		DueDate: due, StartedAt: started, CompletedAt: now.UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))
	acceptProposal(t, st, userID, "t-snap")

	// One closed stall, one still open at completion
	require.NoError(t, st.OpenStall(&store.Stall{
		ID: "st-1", TaskID: "t-snap", Reason: "waiting on images",
		StartedAt: started + 10*60000, EndedAt: started + 40*60000,
	}))
	require.NoError(t, st.OpenStall(&store.Stall{
		ID: "st-2", TaskID: "t-snap", Reason: "blocked on review",
		StartedAt: now.Add(-20 * time.Minute).UnixMilli(),
	}))

	// One subtask added after work began
	require.NoError(t, st.CreateTask(&store.Task{
		ID: "t-snap-sub", UserID: userID, ParentID: "t-snap", Title: "Add screenshots",
		Status: "completed", Priority: "medium", CreatedAt: started + 60000, UpdatedAt: started + 60000,
	}))

	h, err := rec.Record(userID, "t-snap", false)
	require.NoError(t, err)
	require.NotNil(t, h)

	require.NotNil(t, h.EstimateRatio)
	assert.InDelta(t, 1.5, *h.EstimateRatio, 0.0001)
	require.NotNil(t, h.DaysOverdue)
	assert.Equal(t, 3, *h.DaysOverdue)
	assert.Equal(t, OutcomeLate, h.Outcome)

	assert.Equal(t, 1, h.SubtasksTotal)
	assert.Equal(t, 1, h.SubtasksAddedLate)
	var added []string
	require.NoError(t, json.Unmarshal([]byte(h.AddedSubtaskTitles), &added))
	assert.Equal(t, []string{"Add screenshots"}, added)

	assert.Equal(t, 2, h.StallCount)
	assert.Equal(t, 50, h.StallMinutes, "30 closed + 20 open-until-completion")
	var events []StallPoint
	require.NoError(t, json.Unmarshal([]byte(h.StallEvents), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "waiting on images", events[0].Reason)
	assert.Equal(t, 30, events[0].Minutes)
	assert.Equal(t, "blocked on review", events[1].Reason)
	assert.Equal(t, 20, events[1].Minutes)

	assert.Equal(t, "writing", h.Category)
	var fp []string
	require.NoError(t, json.Unmarshal([]byte(h.Fingerprint), &fp))
	assert.Contains(t, fp, "blog")
	assert.Contains(t, fp, "launch")
}

func TestRecord_OnlyOnce(t *testing.T) {
	rec, st, fake := newTestRecorder(t)
	userID := seedUser(t, st, "once@example.com")

	task := &store.Task{
		ID: "t-once", UserID: userID, Title: "Tracked task",
		Status: "completed", Priority: "medium", CompletedAt: fake.Now().UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))
	acceptProposal(t, st, userID, "t-once")

	first, err := rec.Record(userID, "t-once", false)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := rec.Record(userID, "t-once", false)
	require.NoError(t, err)
	assert.Nil(t, second, "snapshots are immutable once written")
}

func TestRecord_NullableGuards(t *testing.T) {
	rec, st, fake := newTestRecorder(t)
	userID := seedUser(t, st, "nulls@example.com")

	// No estimate, no due date
	task := &store.Task{
		ID: "t-null", UserID: userID, Title: "Loose task",
		Status: "completed", Priority: "medium",
		ActualMinutes: 45, CompletedAt: fake.Now().UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))
	acceptProposal(t, st, userID, "t-null")

	h, err := rec.Record(userID, "t-null", false)
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Nil(t, h.EstimateRatio, "no estimate means no ratio, not zero or infinity")
	assert.Nil(t, h.DaysOverdue)
	assert.Equal(t, OutcomeOnTime, h.Outcome)
}

func TestRecord_AbandonedOutcome(t *testing.T) {
	rec, st, fake := newTestRecorder(t)
	userID := seedUser(t, st, "abandon@example.com")

	task := &store.Task{
		ID: "t-aband", UserID: userID, Title: "Dropped task",
		Status: "cancelled", Priority: "medium", CompletedAt: fake.Now().UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))
	acceptProposal(t, st, userID, "t-aband")

	h, err := rec.Record(userID, "t-aband", true)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, OutcomeAbandoned, h.Outcome)
}

func TestRecordAsync_NeverSurfacesErrors(t *testing.T) {
	rec, st, _ := newTestRecorder(t)
	userID := seedUser(t, st, "async@example.com")

	// Unknown task: Record would fail, RecordAsync must swallow it
	rec.RecordAsync(userID, "no-such-task", false)

	task := &store.Task{
		ID: "t-async", UserID: userID, Title: "Async task",
		Status: "completed", Priority: "medium", CompletedAt: time.Now().UnixMilli(),
	}
	require.NoError(t, st.CreateTask(task))
	acceptProposal(t, st, userID, "t-async")

	rec.RecordAsync(userID, "t-async", false)

	assert.Eventually(t, func() bool {
		h, err := st.GetHistoryByTask(userID, "t-async")
		return err == nil && h != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2025, 6, 10, 17, 0, 0, 0, time.UTC).UnixMilli()

	// Same calendar day, later hour: on time
	completed := time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC).UnixMilli()
	d := daysOverdue(completed, due)
	require.NotNil(t, d)
	assert.Equal(t, 0, *d)

	// Next morning counts as one whole day
	completed = time.Date(2025, 6, 11, 0, 30, 0, 0, time.UTC).UnixMilli()
	d = daysOverdue(completed, due)
	require.NotNil(t, d)
	assert.Equal(t, 1, *d)

	// Early finishes clamp to zero
	completed = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	d = daysOverdue(completed, due)
	require.NotNil(t, d)
	assert.Equal(t, 0, *d)

	assert.Nil(t, daysOverdue(completed, 0))
}

func TestCalculateInsights_Rules(t *testing.T) {
	ratio := 2.0
	overdue := 2
	h := &store.History{
		EstimateRatio:     &ratio,
		SubtasksAddedLate: 3,
		StallMinutes:      45,
		DaysOverdue:       &overdue,
	}

	got := CalculateInsights(h)
	require.Len(t, got, 4)
	assert.Contains(t, got[0], "100% longer")
	assert.Contains(t, got[1], "3 subtasks")
	assert.Contains(t, got[2], "45 minutes")
	assert.Contains(t, got[3], "2 day(s)")
}

func TestCalculateInsights_Thresholds(t *testing.T) {
	ratio := 1.5
	zero := 0
	h := &store.History{
		EstimateRatio:     &ratio, // exactly at threshold: no flag
		SubtasksAddedLate: 2,      // at threshold: no flag
		StallMinutes:      30,     // at threshold: no flag
		DaysOverdue:       &zero,
	}

	got := CalculateInsights(h)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, CalculateInsights(&store.History{}))
}
