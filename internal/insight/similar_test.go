package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-hq/daybook/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := fmt.Sprintf("/tmp/insight-test-%d.db", time.Now().UnixNano())
	st, err := store.New(dbPath, zerolog.New(os.Stderr))
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.Remove(dbPath)
	})
	return st
}

func seedUser(t *testing.T, st *store.Store, email string) string {
	t.Helper()
	id := "user-" + email
	require.NoError(t, st.CreateUser(&store.User{ID: id, Email: email, PasswordHash: "x"}))
	return id
}

type historySeed struct {
	title       string
	category    string
	ratio       float64 // 0 = no ratio
	outcome     string
	completedAt int64
	addedTitles []string
	stalls      []StallPoint
	addedLate   int
}

func seedHistory(t *testing.T, st *store.Store, userID string, seed historySeed) string {
	t.Helper()

	taskID := fmt.Sprintf("task-%d", time.Now().UnixNano())
	require.NoError(t, st.CreateTask(&store.Task{
		ID: taskID, UserID: userID, Title: seed.title, Status: "completed", Priority: "medium",
	}))

	fp, err := json.Marshal(Fingerprint(seed.title, ""))
	require.NoError(t, err)
	added, err := json.Marshal(seed.addedTitles)
	require.NoError(t, err)
	stalls, err := json.Marshal(seed.stalls)
	require.NoError(t, err)

	stallMinutes := 0
	for _, sp := range seed.stalls {
		stallMinutes += sp.Minutes
	}

	h := &store.History{
		ID:                 store.NewID(),
		TaskID:             taskID,
		UserID:             userID,
		Title:              seed.title,
		Category:           seed.category,
		Outcome:            seed.outcome,
		SubtasksAddedLate:  seed.addedLate,
		StallCount:         len(seed.stalls),
		StallMinutes:       stallMinutes,
		StallEvents:        string(stalls),
		AddedSubtaskTitles: string(added),
		Fingerprint:        string(fp),
		CompletedAt:        seed.completedAt,
	}
	if seed.ratio > 0 {
		r := seed.ratio
		h.EstimateRatio = &r
	}

	inserted, err := st.InsertHistory(h)
	require.NoError(t, err)
	require.True(t, inserted)
	return taskID
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	st := newTestStore(t)
	return NewEngine(st, nil, zerolog.New(os.Stderr)), st
}

func TestFindSimilar_RanksByOverlap(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "rank@example.com")
	base := time.Now().UnixMilli()

	seedHistory(t, st, userID, historySeed{title: "Write launch blog post", outcome: OutcomeOnTime, completedAt: base - 3000})
	seedHistory(t, st, userID, historySeed{title: "Write quarterly report", outcome: OutcomeOnTime, completedAt: base - 2000})
	seedHistory(t, st, userID, historySeed{title: "Fix deploy pipeline", outcome: OutcomeLate, completedAt: base - 1000})

	result, err := engine.FindSimilar(context.Background(), userID, "Write blog post about launch", "", 10)
	require.NoError(t, err)

	require.Len(t, result.Matches, 2, "pipeline task shares no keywords")
	assert.Equal(t, "Write launch blog post", result.Matches[0].Title)
	assert.Equal(t, "Write quarterly report", result.Matches[1].Title)
	assert.Greater(t, result.Matches[0].SimilarityScore, result.Matches[1].SimilarityScore)
	assert.NotEmpty(t, result.Matches[0].MatchReasons)
}

func TestFindSimilar_RecencyBreaksTies(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "ties@example.com")
	base := time.Now().UnixMilli()

	older := seedHistory(t, st, userID, historySeed{title: "Review budget spreadsheet", outcome: OutcomeOnTime, completedAt: base - 10000})
	newer := seedHistory(t, st, userID, historySeed{title: "Review budget spreadsheet", outcome: OutcomeOnTime, completedAt: base - 1000})

	result, err := engine.FindSimilar(context.Background(), userID, "Review budget spreadsheet", "", 10)
	require.NoError(t, err)

	require.Len(t, result.Matches, 2)
	assert.Equal(t, result.Matches[0].SimilarityScore, result.Matches[1].SimilarityScore)
	assert.Equal(t, newer, result.Matches[0].TaskID)
	assert.Equal(t, older, result.Matches[1].TaskID)
}

func TestFindSimilar_Deterministic(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "det@example.com")
	base := time.Now().UnixMilli()

	for i, title := range []string{
		"Write blog post", "Write launch email", "Draft blog outline", "Fix blog deploy",
	} {
		seedHistory(t, st, userID, historySeed{title: title, outcome: OutcomeOnTime, completedAt: base - int64(i*1000)})
	}

	first, err := engine.FindSimilar(context.Background(), userID, "Write a blog post draft", "", 10)
	require.NoError(t, err)
	second, err := engine.FindSimilar(context.Background(), userID, "Write a blog post draft", "", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFindSimilar_LimitClamped(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "limit@example.com")
	base := time.Now().UnixMilli()

	for i := 0; i < 25; i++ {
		seedHistory(t, st, userID, historySeed{
			title:       fmt.Sprintf("Write newsletter issue %d", i),
			outcome:     OutcomeOnTime,
			completedAt: base - int64(i*1000),
		})
	}

	result, err := engine.FindSimilar(context.Background(), userID, "Write newsletter", "", 100)
	require.NoError(t, err)
	assert.Len(t, result.Matches, MaxMatchLimit)

	result, err = engine.FindSimilar(context.Background(), userID, "Write newsletter", "", 0)
	require.NoError(t, err)
	assert.Len(t, result.Matches, DefaultMatchLimit)
}

func TestFindSimilar_NoHistory(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "empty@example.com")

	result, err := engine.FindSimilar(context.Background(), userID, "Anything at all", "", 5)
	require.NoError(t, err)

	assert.NotNil(t, result.Matches)
	assert.Empty(t, result.Matches)
	assert.Equal(t, 0, result.Aggregated.SampleSize)
	assert.Equal(t, 0.0, result.Aggregated.AvgEstimationAccuracy)
	assert.Equal(t, 0.0, result.Aggregated.SuccessRate)
	assert.NotNil(t, result.Aggregated.CommonSubtasksAdded)
	assert.NotNil(t, result.Aggregated.CommonStallPoints)
}

func TestFindSimilar_Aggregation(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "agg@example.com")
	base := time.Now().UnixMilli()

	// ratio 2.0 → accuracy 0.5; ratio 0.5 → accuracy 0.5 (symmetric)
	seedHistory(t, st, userID, historySeed{
		title: "Plan sprint backlog", ratio: 2.0, outcome: OutcomeLate, completedAt: base - 1000,
		addedTitles: []string{"Scope review", "Extra prep"},
		stalls:      []StallPoint{{Reason: "waiting on review", Minutes: 40}},
	})
	seedHistory(t, st, userID, historySeed{
		title: "Plan sprint goals", ratio: 0.5, outcome: OutcomeOnTime, completedAt: base - 2000,
		addedTitles: []string{"scope review"},
		stalls:      []StallPoint{{Reason: "waiting on review", Minutes: 10}, {Reason: "context switch", Minutes: 5}},
	})
	seedHistory(t, st, userID, historySeed{
		title: "Plan sprint demo", outcome: OutcomeOnTime, completedAt: base - 3000,
	})

	result, err := engine.FindSimilar(context.Background(), userID, "Plan sprint kickoff", "", 10)
	require.NoError(t, err)
	require.Len(t, result.Matches, 3)

	// Recency tie-break puts backlog (ratio 2.0) first, goals (0.5) second.
	assert.True(t, result.Matches[0].Insights.WasUnderEstimate)
	assert.False(t, result.Matches[0].Insights.WasOverEstimate)
	assert.True(t, result.Matches[1].Insights.WasOverEstimate)
	assert.False(t, result.Matches[1].Insights.WasUnderEstimate)
	assert.False(t, result.Matches[2].Insights.WasOverEstimate)
	assert.False(t, result.Matches[2].Insights.WasUnderEstimate)

	agg := result.Aggregated
	assert.Equal(t, 3, agg.SampleSize)
	// Third match has no ratio and must not drag the average down
	assert.InDelta(t, 0.5, agg.AvgEstimationAccuracy, 0.0001)
	assert.InDelta(t, 2.0/3.0, agg.SuccessRate, 0.0001)
	// "Scope review" recurs (case-insensitive) and ranks first
	require.NotEmpty(t, agg.CommonSubtasksAdded)
	assert.Equal(t, "Scope review", agg.CommonSubtasksAdded[0])
	require.NotEmpty(t, agg.CommonStallPoints)
	assert.Equal(t, "waiting on review", agg.CommonStallPoints[0])
}

func TestRankByFrequency(t *testing.T) {
	got := rankByFrequency([]string{"Review", "deploy", "review", "Deploy", "deploy", "triage"}, 2)
	assert.Equal(t, []string{"deploy", "Review"}, got)

	assert.Equal(t, []string{}, rankByFrequency(nil, 5))
	assert.Equal(t, []string{}, rankByFrequency([]string{"  ", ""}, 5))
}

func TestSummarize(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "sum@example.com")
	base := time.Now().UnixMilli()

	seedHistory(t, st, userID, historySeed{
		title: "Ship feature flag", ratio: 1.25, outcome: OutcomeOnTime, completedAt: base - 1000,
		stalls: []StallPoint{{Reason: "blocked on api", Minutes: 20}},
	})
	seedHistory(t, st, userID, historySeed{
		title: "Ship billing fix", ratio: 3.0, outcome: OutcomeLate, completedAt: base - 2000,
		addedTitles: []string{"Hotfix rollout"},
	})
	seedHistory(t, st, userID, historySeed{
		title: "Cancel old contract", outcome: OutcomeAbandoned, completedAt: base - 3000,
	})

	sum, err := engine.Summarize(userID)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TasksTracked)
	// min(1.25, 0.8) = 0.8; min(3, 1/3) = 1/3
	assert.InDelta(t, (0.8+1.0/3.0)/2, sum.AvgEstimationAccuracy, 0.0001)
	assert.InDelta(t, 1.0/3.0, sum.OnTimeRate, 0.0001)
	assert.Equal(t, 1, sum.OutcomeCounts[OutcomeOnTime])
	assert.Equal(t, 1, sum.OutcomeCounts[OutcomeLate])
	assert.Equal(t, 1, sum.OutcomeCounts[OutcomeAbandoned])
	assert.Equal(t, []string{"blocked on api"}, sum.CommonStallPoints)
	assert.Equal(t, []string{"Hotfix rollout"}, sum.CommonSubtasksAdded)
}

func TestSummarize_Empty(t *testing.T) {
	engine, st := newTestEngine(t)
	userID := seedUser(t, st, "sumempty@example.com")

	sum, err := engine.Summarize(userID)
	require.NoError(t, err)

	assert.Equal(t, 0, sum.TasksTracked)
	assert.Equal(t, 0.0, sum.AvgEstimationAccuracy)
	assert.Equal(t, 0.0, sum.OnTimeRate)
	assert.NotNil(t, sum.OutcomeCounts)
	assert.Empty(t, sum.CommonStallPoints)
}
