package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-hq/daybook/internal/artifact"
	"github.com/daybook-hq/daybook/internal/auth"
	"github.com/daybook-hq/daybook/internal/briefing"
	"github.com/daybook-hq/daybook/internal/chat"
	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/health"
	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/metrics"
	"github.com/daybook-hq/daybook/internal/ratelimit"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

// stubProvider scripts model replies for handler tests.
type stubProvider struct {
	text        string
	script      []llm.Token
	completeErr error
}

func (s *stubProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return &llm.CompletionResponse{
		Text:         s.text,
		StopReason:   llm.StopReasonEndTurn,
		InputTokens:  12,
		OutputTokens: 8,
	}, nil
}

func (s *stubProvider) Stream(ctx context.Context, _ llm.CompletionRequest, out chan<- llm.Token) error {
	script := append([]llm.Token(nil), s.script...)
	go func() {
		defer close(out)
		for _, tok := range script {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *stubProvider) ModelID() string { return "stub" }

type testEnv struct {
	srv      *Server
	store    *store.Store
	clock    *clock.Fake
	provider *stubProvider
	policy   ratelimit.Policy
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	dbPath := t.TempDir() + "/test.db"
	st, err := store.New(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	m := metrics.New()
	provider := &stubProvider{text: "stubbed reply"}

	policy := ratelimit.Policy{
		ratelimit.ClassChat: {Window: time.Minute, Max: 2},
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), policy, clk, logger)

	recorder := insight.NewRecorder(st, clk, m, logger)
	tasks := task.NewService(st, clk, recorder, nil, logger)
	artifacts := artifact.NewService(st, logger)
	orch := chat.NewOrchestrator(st, provider, clk, logger)

	checker := health.NewChecker(logger)
	checker.Register("database", health.DatabaseCheck(st.DB()))

	srv := New(Config{}, Deps{
		Auth:      auth.NewService(st, "test-secret", time.Hour, clk, logger),
		Tasks:     tasks,
		Artifacts: artifacts,
		Insights:  insight.NewEngine(st, nil, logger),
		Chat:      orch,
		Ops:       chat.NewOperations(orch, artifacts, logger),
		Briefings: briefing.NewService(st, nil, clk, time.Minute, logger),
		Limiter:   limiter,
		Checker:   checker,
		Metrics:   m,
		Store:     st,
	}, logger)

	return &testEnv{srv: srv, store: st, clock: clk, provider: provider, policy: policy}
}

type envelope struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
	Data    json.RawMessage   `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.srv.App().Test(req, -1)
	require.NoError(t, err)

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	}
	return resp, env
}

func (e *testEnv) registerUser(t *testing.T, email string) string {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func (e *testEnv) createTask(t *testing.T, token, title string) string {
	t.Helper()
	resp, env := e.do(t, http.MethodPost, "/api/v1/tasks", token, map[string]interface{}{
		"title": title,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var data struct {
		Task taskJSON `json:"task"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Task.ID
}

func TestAuth_MissingTokenIsUniform401(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/v1/tasks", "/api/v1/contexts?taskId=x", "/api/v1/briefing"} {
		resp, env := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.False(t, env.Success)
		assert.Equal(t, "Unauthorized", env.Error)
	}
}

func TestAuth_RegisterLoginAndUseToken(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "ada@example.com")

	resp, env := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	id := e.createTask(t, token, "Write report")
	resp, env = e.do(t, http.MethodGet, "/api/v1/tasks/"+id, token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestTasks_ValidationErrorCarriesFieldDetails(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "v@example.com")

	resp, env := e.do(t, http.MethodPost, "/api/v1/tasks", token, map[string]interface{}{
		"description": "no title",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Contains(t, env.Details, "title")
}

func TestTasks_OtherUsersTaskReadsAsNotFound(t *testing.T) {
	e := newTestEnv(t)
	owner := e.registerUser(t, "owner@example.com")
	other := e.registerUser(t, "other@example.com")

	id := e.createTask(t, owner, "Private task")

	resp, env := e.do(t, http.MethodGet, "/api/v1/tasks/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Task not found", env.Error)
}

func TestContexts_VersioningOverTheWire(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "c@example.com")
	taskID := e.createTask(t, token, "Research task")

	for _, content := range []string{"v1", "v2"} {
		resp, _ := e.do(t, http.MethodPost, "/api/v1/contexts", token, map[string]interface{}{
			"taskId":  taskID,
			"type":    "research",
			"content": content,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, env := e.do(t, http.MethodGet, "/api/v1/contexts?taskId="+taskID+"&type=research", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data struct {
		Contexts []contextJSON `json:"contexts"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Contexts, 1)
	assert.Equal(t, "v2", data.Contexts[0].Content)
	assert.Equal(t, 2, data.Contexts[0].Version)
	assert.True(t, data.Contexts[0].IsCurrent)

	resp, env = e.do(t, http.MethodGet, "/api/v1/contexts?taskId="+taskID+"&type=research&currentOnly=false", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Contexts, 2)
}

func TestChat_NonStreaming(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "chat@example.com")

	stream := false
	resp, env := e.do(t, http.MethodPost, "/api/v1/ai/chat", token, map[string]interface{}{
		"message": "hello",
		"stream":  &stream,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "stubbed reply", data.Content)
	assert.NotEmpty(t, data.ConversationID)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
}

func TestChat_StreamingSSE(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "sse@example.com")

	e.provider.script = []llm.Token{
		{Text: "Hel"},
		{Text: "lo"},
		{Done: true, InputTokens: 5, OutputTokens: 2},
	}

	raw, err := json.Marshal(map[string]interface{}{"message": "hi"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var types []string
	var text strings.Builder
	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		types = append(types, ev.Type)
		if ev.Delta != nil {
			text.WriteString(ev.Delta.Text)
		}
	}

	assert.Equal(t, []string{"message_start", "content_block_delta", "content_block_delta", "message_stop"}, types)
	assert.Equal(t, "Hello", text.String())
}

func TestChat_RateLimitedAfterBudget(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "rl@example.com")

	stream := false
	body := map[string]interface{}{"message": "hi", "stream": &stream}

	for i := 0; i < 2; i++ {
		resp, _ := e.do(t, http.MethodPost, "/api/v1/ai/chat", token, body)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, env := e.do(t, http.MethodPost, "/api/v1/ai/chat", token, body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))

	var retry int
	_, err := fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &retry)
	require.NoError(t, err)
	assert.LessOrEqual(t, retry, 60)
	assert.Greater(t, retry, 0)

	// A new window restores the budget.
	e.clock.Advance(61 * time.Second)
	resp, _ = e.do(t, http.MethodPost, "/api/v1/ai/chat", token, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSimilarTasks_MatchWithHistory(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "sim@example.com")

	// One completed "write report" task: 60 estimated, 90 actual.
	userID := userIDFromHistorySeed(t, e, "sim@example.com")
	require.NoError(t, e.store.CreateTask(&store.Task{
		ID: "hist-task-1", UserID: userID, Title: "Write report",
		Status: "completed", Priority: "medium",
	}))
	ratio := 1.5
	overdue := 0
	_, err := e.store.InsertHistory(&store.History{
		ID:                 store.NewID(),
		TaskID:             "hist-task-1",
		UserID:             userID,
		Title:              "Write report",
		Category:           "writing",
		EstimatedMinutes:   60,
		ActualMinutes:      90,
		EstimateRatio:      &ratio,
		DaysOverdue:        &overdue,
		Outcome:            insight.OutcomeOnTime,
		StallEvents:        `[]`,
		AddedSubtaskTitles: `[]`,
		Fingerprint:        `["report","write"]`,
		CompletedAt:        e.clock.Now().UnixMilli(),
	})
	require.NoError(t, err)

	resp, env := e.do(t, http.MethodPost, "/api/v1/ai/similar-tasks", token, map[string]interface{}{
		"title": "Write report",
		"limit": 5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Tasks      []matchJSON    `json:"tasks"`
		Aggregated aggregatedJSON `json:"aggregatedInsights"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Tasks, 1)

	m := data.Tasks[0]
	assert.Equal(t, 100, m.SimilarityScore)
	require.NotNil(t, m.ExecutionInsights.EstimatedVsActual)
	assert.InDelta(t, 1.5, *m.ExecutionInsights.EstimatedVsActual, 0.001)
	assert.True(t, m.ExecutionInsights.WasUnderEstimate)
	assert.False(t, m.ExecutionInsights.WasOverEstimate)
	assert.InDelta(t, 1.0/1.5, data.Aggregated.AvgEstimationAccuracy, 0.001)
	assert.Equal(t, 1.0, data.Aggregated.SuccessRate)
}

func TestSimilarTasks_EmptyHistoryGivesZeroAggregates(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "empty@example.com")

	resp, env := e.do(t, http.MethodPost, "/api/v1/ai/similar-tasks", token, map[string]interface{}{
		"title": "Anything at all",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Tasks      []matchJSON    `json:"tasks"`
		Aggregated aggregatedJSON `json:"aggregatedInsights"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Empty(t, data.Tasks)
	assert.Zero(t, data.Aggregated.AvgEstimationAccuracy)
	assert.Zero(t, data.Aggregated.SuccessRate)
	assert.NotNil(t, data.Aggregated.CommonStallPoints)
}

func TestTaskInsights_UntrackedTask(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "ins@example.com")
	taskID := e.createTask(t, token, "Plain task")

	resp, env := e.do(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/insights", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Tracked     bool     `json:"tracked"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.False(t, data.Tracked)
	assert.NotNil(t, data.Suggestions)
}

func TestBriefing_AssembledWithoutProvider(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerUser(t, "brief@example.com")
	e.createTask(t, token, "Due soon")

	resp, env := e.do(t, http.MethodGet, "/api/v1/briefing", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Briefing briefing.Briefing `json:"briefing"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "2025-06-02", data.Briefing.Date)
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// userIDFromHistorySeed looks up the registered user's id so seeded
// history rows land under the right account.
func userIDFromHistorySeed(t *testing.T, e *testEnv, email string) string {
	t.Helper()
	u, err := e.store.GetUserByEmail(email)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.ID
}
