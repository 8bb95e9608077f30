package insight

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/store"
)

// Match limits. Callers asking for more than MaxMatchLimit are clamped.
const (
	DefaultMatchLimit = 5
	MaxMatchLimit     = 20
)

const maxSharedKeywordsShown = 5
const maxCommonEntries = 5

// ExecutionInsights summarizes how one historical task actually went.
// The aggregate accuracy score is symmetric, so the directional flags
// preserve which way the estimate missed.
type ExecutionInsights struct {
	EstimatedVsActual *float64 // actual/estimated, nil when unknown
	WasOverEstimate   bool     // finished faster than estimated
	WasUnderEstimate  bool     // took longer than estimated
	SubtasksAdded     int
	AddedTitles       []string
	StallPoints       []StallPoint
	Outcome           string
}

// Match is one historical task scored against a candidate.
type Match struct {
	TaskID          string
	Title           string
	Category        string
	SimilarityScore int // 0-100
	MatchReasons    []string
	CompletedAt     int64 // unix ms
	Insights        ExecutionInsights
}

// Aggregated rolls the matched history up into summary statistics.
// Zero matches yield explicit zero values, never nils, so callers need
// no "no data" branch.
type Aggregated struct {
	AvgEstimationAccuracy float64  // 0..1, symmetric: min(ratio, 1/ratio)
	CommonSubtasksAdded   []string // frequency-ranked
	CommonStallPoints     []string // frequency-ranked
	SuccessRate           float64  // fraction of matches completed on time
	SampleSize            int
}

// Result is the full output of a similarity query.
type Result struct {
	Matches    []Match
	Aggregated Aggregated
}

// Refiner annotates top matches with model-written justifications.
// Refinement is strictly additive; ordering and scores stay heuristic.
type Refiner interface {
	Refine(ctx context.Context, title, description string, matches []Match) ([]Match, error)
}

// Engine scores candidate tasks against a user's execution history.
type Engine struct {
	store   *store.Store
	refiner Refiner // nil disables AI refinement
	logger  zerolog.Logger
}

// NewEngine creates an Engine. Pass a nil refiner to run heuristic-only.
func NewEngine(st *store.Store, refiner Refiner, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   st,
		refiner: refiner,
		logger:  logger.With().Str("component", "insight").Logger(),
	}
}

// FindSimilar scores the user's history against a candidate title and
// description. The heuristic layer is deterministic: equal inputs give
// equal scores and ordering, with recency breaking score ties.
func (e *Engine) FindSimilar(ctx context.Context, userID, title, description string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	if limit > MaxMatchLimit {
		limit = MaxMatchLimit
	}

	candidate := Fingerprint(title, description)
	candidateCategory := Classify(candidate)

	rows, err := e.store.ListHistory(userID, 0)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, h := range rows {
		var tokens []string
		if err := json.Unmarshal([]byte(h.Fingerprint), &tokens); err != nil {
			e.logger.Warn().Err(err).Str("task", h.TaskID).Msg("unreadable fingerprint, skipping row")
			continue
		}

		score := int(math.Round(jaccard(candidate, tokens) * 100))
		if score == 0 {
			continue
		}

		matches = append(matches, Match{
			TaskID:          h.TaskID,
			Title:           h.Title,
			Category:        h.Category,
			SimilarityScore: score,
			MatchReasons:    matchReasons(shared(candidate, tokens), h.Category, candidateCategory),
			CompletedAt:     h.CompletedAt,
			Insights:        insightsFor(h),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].SimilarityScore != matches[j].SimilarityScore {
			return matches[i].SimilarityScore > matches[j].SimilarityScore
		}
		// Newer completions reflect current habits better
		if matches[i].CompletedAt != matches[j].CompletedAt {
			return matches[i].CompletedAt > matches[j].CompletedAt
		}
		return matches[i].TaskID < matches[j].TaskID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	result := &Result{Matches: matches, Aggregated: aggregate(matches)}

	if e.refiner != nil && len(matches) > 0 {
		refined, err := e.refiner.Refine(ctx, title, description, matches)
		if err != nil {
			e.logger.Warn().Err(err).Msg("match refinement failed, keeping heuristic ranking")
		} else {
			result.Matches = refined
		}
	}

	return result, nil
}

func matchReasons(sharedTokens []string, histCategory, candidateCategory string) []string {
	var out []string
	if len(sharedTokens) > 0 {
		show := sharedTokens
		if len(show) > maxSharedKeywordsShown {
			show = show[:maxSharedKeywordsShown]
		}
		out = append(out, "shared keywords: "+strings.Join(show, ", "))
	}
	if histCategory != "" && histCategory == candidateCategory {
		out = append(out, "same category: "+histCategory)
	}
	return out
}

func insightsFor(h *store.History) ExecutionInsights {
	ins := ExecutionInsights{
		SubtasksAdded: h.SubtasksAddedLate,
		AddedTitles:   []string{},
		StallPoints:   []StallPoint{},
		Outcome:       h.Outcome,
	}
	ins.EstimatedVsActual = h.EstimateRatio
	if r := h.EstimateRatio; r != nil {
		ins.WasOverEstimate = *r < 1
		ins.WasUnderEstimate = *r > 1
	}

	if err := json.Unmarshal([]byte(h.StallEvents), &ins.StallPoints); err != nil {
		ins.StallPoints = []StallPoint{}
	}
	if err := json.Unmarshal([]byte(h.AddedSubtaskTitles), &ins.AddedTitles); err != nil {
		ins.AddedTitles = []string{}
	}
	return ins
}

func aggregate(matches []Match) Aggregated {
	agg := Aggregated{
		CommonSubtasksAdded: []string{},
		CommonStallPoints:   []string{},
		SampleSize:          len(matches),
	}
	if len(matches) == 0 {
		return agg
	}

	var accuracySum float64
	accuracyN := 0
	onTime := 0
	var subtasks, stalls []string

	for _, m := range matches {
		if r := m.Insights.EstimatedVsActual; r != nil && *r > 0 {
			accuracySum += math.Min(*r, 1 / *r)
			accuracyN++
		}
		if m.Insights.Outcome == OutcomeOnTime {
			onTime++
		}
		subtasks = append(subtasks, m.Insights.AddedTitles...)
		for _, sp := range m.Insights.StallPoints {
			stalls = append(stalls, sp.Reason)
		}
	}

	if accuracyN > 0 {
		agg.AvgEstimationAccuracy = accuracySum / float64(accuracyN)
	}
	agg.SuccessRate = float64(onTime) / float64(len(matches))
	agg.CommonSubtasksAdded = rankByFrequency(subtasks, maxCommonEntries)
	agg.CommonStallPoints = rankByFrequency(stalls, maxCommonEntries)
	return agg
}

// rankByFrequency orders strings by recurrence (case-insensitive), most
// frequent first, alphabetical on ties. Keeps first-seen casing and at
// most max entries.
func rankByFrequency(items []string, max int) []string {
	if len(items) == 0 {
		return []string{}
	}

	counts := make(map[string]int)
	first := make(map[string]string)
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" {
			continue
		}
		counts[key]++
		if _, ok := first[key]; !ok {
			first[key] = strings.TrimSpace(item)
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	if len(keys) > max {
		keys = keys[:max]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = first[k]
	}
	return out
}

// Summary aggregates a user's entire execution history for the
// insights overview endpoint.
type Summary struct {
	TasksTracked          int
	AvgEstimationAccuracy float64
	OnTimeRate            float64
	OutcomeCounts         map[string]int
	CommonStallPoints     []string
	CommonSubtasksAdded   []string
}

// Summarize rolls up every recorded snapshot for the user. Zero history
// yields explicit zero values and empty collections.
func (e *Engine) Summarize(userID string) (*Summary, error) {
	rows, err := e.store.ListHistory(userID, 0)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		TasksTracked:        len(rows),
		OutcomeCounts:       make(map[string]int),
		CommonStallPoints:   []string{},
		CommonSubtasksAdded: []string{},
	}
	if len(rows) == 0 {
		return sum, nil
	}

	var accuracySum float64
	accuracyN := 0
	onTime := 0
	var subtasks, stalls []string

	for _, h := range rows {
		ins := insightsFor(h)
		if r := ins.EstimatedVsActual; r != nil && *r > 0 {
			accuracySum += math.Min(*r, 1 / *r)
			accuracyN++
		}
		sum.OutcomeCounts[h.Outcome]++
		if h.Outcome == OutcomeOnTime {
			onTime++
		}
		subtasks = append(subtasks, ins.AddedTitles...)
		for _, sp := range ins.StallPoints {
			stalls = append(stalls, sp.Reason)
		}
	}

	if accuracyN > 0 {
		sum.AvgEstimationAccuracy = accuracySum / float64(accuracyN)
	}
	sum.OnTimeRate = float64(onTime) / float64(len(rows))
	sum.CommonStallPoints = rankByFrequency(stalls, maxCommonEntries)
	sum.CommonSubtasksAdded = rankByFrequency(subtasks, maxCommonEntries)
	return sum, nil
}
