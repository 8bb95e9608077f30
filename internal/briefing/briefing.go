// Package briefing assembles a user's daily agenda: due and overdue
// counts, the tasks that deserve attention first, and a short model-
// written summary. Briefings are cached per user and rebuilt on TTL
// expiry, date rollover, or an explicit refresh.
package briefing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/cache"
	"github.com/daybook-hq/daybook/internal/clock"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/retry"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

const (
	// cacheSize bounds how many users can hold a briefing at once; the
	// least recently active user falls out first.
	cacheSize = 512

	defaultTTL = 30 * time.Minute
	topTaskMax = 5

	summaryMaxTokens = 256
)

const summaryPrompt = `You write a two or three sentence morning briefing from the user's task numbers. Be direct about what needs attention first. No greetings, no bullet points, no markdown.`

// TopTask is one agenda entry, ordered most urgent first.
type TopTask struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	DueDate  int64  `json:"dueDate"`
	Overdue  bool   `json:"overdue"`
}

// Briefing is one day's assembled agenda.
type Briefing struct {
	Date        string    `json:"date"` // YYYY-MM-DD, UTC
	GeneratedAt int64     `json:"generatedAt"`
	DueToday    int       `json:"dueToday"`
	Overdue     int       `json:"overdue"`
	InProgress  int       `json:"inProgress"`
	Blocked     int       `json:"blocked"`
	TopTasks    []TopTask `json:"topTasks"`
	Summary     string    `json:"summary,omitempty"`
	Cached      bool      `json:"cached"`
}

// Service builds and caches briefings. A nil provider drops the
// summary paragraph; the counts and agenda still work.
type Service struct {
	store    *store.Store
	provider llm.Provider
	cache    *cache.Cache[string, *Briefing]
	clock    clock.Clock
	retry    retry.Config
	logger   zerolog.Logger
}

func NewService(st *store.Store, provider llm.Provider, clk clock.Clock, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		store:    st,
		provider: provider,
		cache:    cache.New[string, *Briefing](cacheSize, ttl, clk),
		clock:    clk,
		retry:    retry.DefaultConfig(),
		logger:   logger.With().Str("component", "briefing").Logger(),
	}
}

// Get returns the user's briefing, served from cache when a fresh one
// exists. refresh forces a rebuild. A cached briefing from a previous
// day never counts as fresh, whatever the TTL says.
func (s *Service) Get(ctx context.Context, userID string, refresh bool) (*Briefing, error) {
	today := s.clock.Now().UTC().Format("2006-01-02")

	if !refresh {
		if b, ok := s.cache.Get(userID); ok && b.Date == today {
			hit := *b
			hit.Cached = true
			return &hit, nil
		}
	}

	b, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Put(userID, b)

	out := *b
	return &out, nil
}

func (s *Service) build(ctx context.Context, userID string) (*Briefing, error) {
	now := s.clock.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999_000_000, time.UTC).UnixMilli()

	due, err := s.store.ListTasks(userID, store.TaskFilter{DueBefore: dayEnd + 1, OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load agenda: %w", err)
	}
	inProgress, err := s.store.ListTasks(userID, store.TaskFilter{Status: task.StatusInProgress})
	if err != nil {
		return nil, fmt.Errorf("load agenda: %w", err)
	}
	blocked, err := s.store.ListTasks(userID, store.TaskFilter{Status: task.StatusBlocked})
	if err != nil {
		return nil, fmt.Errorf("load agenda: %w", err)
	}

	b := &Briefing{
		Date:        now.Format("2006-01-02"),
		GeneratedAt: now.UnixMilli(),
		InProgress:  len(inProgress),
		Blocked:     len(blocked),
		TopTasks:    []TopTask{},
	}
	for _, t := range due {
		if t.DueDate < dayStart {
			b.Overdue++
		} else {
			b.DueToday++
		}
	}
	b.TopTasks = topTasks(due, dayStart)

	if s.provider != nil {
		summary, err := s.summarize(ctx, b)
		if err != nil {
			// The agenda stands on its own; a missing paragraph is not
			// worth failing the request over.
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("briefing summary unavailable")
		} else {
			b.Summary = summary
		}
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int("due_today", b.DueToday).
		Int("overdue", b.Overdue).
		Msg("briefing built")

	return b, nil
}

var priorityRank = map[string]int{
	task.PriorityUrgent: 0,
	task.PriorityHigh:   1,
	task.PriorityMedium: 2,
	task.PriorityLow:    3,
}

// topTasks ranks the due list by priority, then earliest due date, and
// keeps the head of it.
func topTasks(due []*store.Task, dayStart int64) []TopTask {
	ranked := append([]*store.Task(nil), due...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rankOf(ranked[i].Priority), rankOf(ranked[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return ranked[i].DueDate < ranked[j].DueDate
	})

	out := make([]TopTask, 0, topTaskMax)
	for _, t := range ranked {
		if len(out) == topTaskMax {
			break
		}
		out = append(out, TopTask{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			Priority: t.Priority,
			DueDate:  t.DueDate,
			Overdue:  t.DueDate < dayStart,
		})
	}
	return out
}

func rankOf(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}

func (s *Service) summarize(ctx context.Context, b *Briefing) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today: %d due, %d overdue, %d in progress, %d blocked.\n", b.DueToday, b.Overdue, b.InProgress, b.Blocked)
	if len(b.TopTasks) > 0 {
		sb.WriteString("Top tasks:\n")
		for _, t := range b.TopTasks {
			fmt.Fprintf(&sb, "- %s (%s", t.Title, t.Priority)
			if t.Overdue {
				sb.WriteString(", overdue")
			}
			sb.WriteString(")\n")
		}
	}

	req := llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		MaxTokens:    summaryMaxTokens,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
	}
	var resp *llm.CompletionResponse
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.provider.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
