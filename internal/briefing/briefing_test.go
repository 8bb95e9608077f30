package briefing

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-hq/daybook/internal/clock"
	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/retry"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

type stubProvider struct {
	mu        sync.Mutex
	text      string
	err       error
	failFirst int   // fail this many calls with failWith, then recover
	failWith  error
	calls     int
	last      llm.CompletionRequest
}

func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.failFirst > 0 {
		s.failFirst--
		return nil, s.failWith
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Text: s.text, StopReason: llm.StopReasonEndTurn}, nil
}

func (s *stubProvider) Stream(ctx context.Context, req llm.CompletionRequest, out chan<- llm.Token) error {
	close(out)
	return fmt.Errorf("not implemented")
}

func (s *stubProvider) ModelID() string { return "stub-model" }

type briefingDeps struct {
	svc      *Service
	store    *store.Store
	clock    *clock.Fake
	provider *stubProvider
}

func newTestService(t *testing.T, withProvider bool) briefingDeps {
	t.Helper()
	dbPath := fmt.Sprintf("/tmp/briefing-test-%d.db", time.Now().UnixNano())
	st, err := store.New(dbPath, zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.Remove(dbPath)
	})
	require.NoError(t, st.CreateUser(&store.User{ID: "u1", Email: "u1@example.com", PasswordHash: "x"}))
	require.NoError(t, st.CreateUser(&store.User{ID: "u2", Email: "u2@example.com", PasswordHash: "x"}))

	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	var provider *stubProvider
	var llmProvider llm.Provider
	if withProvider {
		provider = &stubProvider{text: "Start with the overdue report."}
		llmProvider = provider
	}
	svc := NewService(st, llmProvider, clk, 30*time.Minute, zerolog.Nop())
	svc.retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return briefingDeps{
		svc:      svc,
		store:    st,
		clock:    clk,
		provider: provider,
	}
}

func seedTask(t *testing.T, st *store.Store, userID string, tk *store.Task) *store.Task {
	t.Helper()
	tk.ID = store.NewID()
	tk.UserID = userID
	if tk.Status == "" {
		tk.Status = task.StatusPending
	}
	if tk.Priority == "" {
		tk.Priority = task.PriorityMedium
	}
	require.NoError(t, st.CreateTask(tk))
	return tk
}

func TestGet_CountsAndTopTasks(t *testing.T) {
	d := newTestService(t, false)
	now := d.clock.Now()

	seedTask(t, d.store, "u1", &store.Task{Title: "overdue report", Priority: task.PriorityMedium, DueDate: now.Add(-48 * time.Hour).UnixMilli()})
	seedTask(t, d.store, "u1", &store.Task{Title: "urgent today", Priority: task.PriorityUrgent, DueDate: now.Add(4 * time.Hour).UnixMilli()})
	seedTask(t, d.store, "u1", &store.Task{Title: "low today", Priority: task.PriorityLow, DueDate: now.Add(2 * time.Hour).UnixMilli()})
	seedTask(t, d.store, "u1", &store.Task{Title: "tomorrow", DueDate: now.Add(26 * time.Hour).UnixMilli()})
	seedTask(t, d.store, "u1", &store.Task{Title: "working on it", Status: task.StatusInProgress})
	seedTask(t, d.store, "u1", &store.Task{Title: "stuck", Status: task.StatusBlocked, DueDate: now.Add(3 * time.Hour).UnixMilli()})
	done := seedTask(t, d.store, "u1", &store.Task{Title: "finished", DueDate: now.UnixMilli()})
	done.Status = task.StatusCompleted
	done.CompletedAt = now.UnixMilli()
	require.NoError(t, d.store.UpdateTask(done))

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-02", b.Date)
	assert.Equal(t, 1, b.Overdue)
	assert.Equal(t, 3, b.DueToday)
	assert.Equal(t, 1, b.InProgress)
	assert.Equal(t, 1, b.Blocked)
	assert.False(t, b.Cached)
	assert.Empty(t, b.Summary, "no provider, no paragraph")

	require.Len(t, b.TopTasks, 4)
	assert.Equal(t, "urgent today", b.TopTasks[0].Title)
	assert.Equal(t, "overdue report", b.TopTasks[1].Title)
	assert.True(t, b.TopTasks[1].Overdue)
	assert.Equal(t, "stuck", b.TopTasks[2].Title)
	assert.Equal(t, "low today", b.TopTasks[3].Title)
}

func TestGet_EmptyAgenda(t *testing.T) {
	d := newTestService(t, false)

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Zero(t, b.DueToday)
	assert.Zero(t, b.Overdue)
	assert.NotNil(t, b.TopTasks)
	assert.Empty(t, b.TopTasks)
}

func TestGet_CachesUntilRefresh(t *testing.T) {
	d := newTestService(t, false)
	now := d.clock.Now()
	seedTask(t, d.store, "u1", &store.Task{Title: "first", DueDate: now.Add(time.Hour).UnixMilli()})

	first, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.DueToday)

	seedTask(t, d.store, "u1", &store.Task{Title: "second", DueDate: now.Add(time.Hour).UnixMilli()})

	cached, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, 1, cached.DueToday, "cache hit ignores new rows")

	fresh, err := d.svc.Get(context.Background(), "u1", true)
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.Equal(t, 2, fresh.DueToday)
}

func TestGet_TTLExpiryRebuilds(t *testing.T) {
	d := newTestService(t, false)
	now := d.clock.Now()
	seedTask(t, d.store, "u1", &store.Task{Title: "first", DueDate: now.Add(time.Hour).UnixMilli()})

	_, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)

	seedTask(t, d.store, "u1", &store.Task{Title: "second", DueDate: now.Add(time.Hour).UnixMilli()})
	d.clock.Advance(31 * time.Minute)

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.False(t, b.Cached)
	assert.Equal(t, 2, b.DueToday)
}

func TestGet_DateRolloverBeatsTTL(t *testing.T) {
	d := newTestService(t, false)
	d.clock.Set(time.Date(2025, 6, 2, 23, 50, 0, 0, time.UTC))

	first, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", first.Date)

	// 20 minutes later the entry is inside its TTL but on the wrong day.
	d.clock.Advance(20 * time.Minute)

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.False(t, b.Cached)
	assert.Equal(t, "2025-06-03", b.Date)
}

func TestGet_PerUserIsolation(t *testing.T) {
	d := newTestService(t, false)
	now := d.clock.Now()
	seedTask(t, d.store, "u1", &store.Task{Title: "mine", DueDate: now.Add(time.Hour).UnixMilli()})

	b1, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, b1.DueToday)

	b2, err := d.svc.Get(context.Background(), "u2", false)
	require.NoError(t, err)
	assert.Zero(t, b2.DueToday)
}

func TestGet_SummaryComesFromProvider(t *testing.T) {
	d := newTestService(t, true)
	now := d.clock.Now()
	seedTask(t, d.store, "u1", &store.Task{Title: "overdue report", DueDate: now.Add(-24 * time.Hour).UnixMilli()})

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, "Start with the overdue report.", b.Summary)

	req := d.provider.last
	assert.Equal(t, summaryPrompt, req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "1 overdue")
	assert.Contains(t, req.Messages[0].Content, "- overdue report (medium, overdue)")
}

func TestGet_SummaryRecoversFromTransientFailure(t *testing.T) {
	d := newTestService(t, true)
	d.provider.failFirst = 1
	d.provider.failWith = apperrors.NewUpstreamError("anthropic", 429, "busy")

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, "Start with the overdue report.", b.Summary)
	assert.Equal(t, 2, d.provider.calls)
}

func TestGet_SummaryFailureDegrades(t *testing.T) {
	d := newTestService(t, true)
	d.provider.err = fmt.Errorf("upstream down")

	b, err := d.svc.Get(context.Background(), "u1", false)
	require.NoError(t, err, "a briefing without the paragraph still serves")
	assert.Empty(t, b.Summary)
	assert.Equal(t, 1, d.provider.calls)
}
