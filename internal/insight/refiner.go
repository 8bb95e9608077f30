package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/llm"
)

// refineTopN caps how many matches are sent to the model. Lower ranks
// rarely carry enough signal to be worth the tokens.
const refineTopN = 3

var refinePrompt = `You are reviewing similarity matches between a new task and tasks the user completed before.

For each match, write one short sentence telling the user what that past task suggests about the new one.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "justifications": [
    {"taskId": "<id of the match>", "reason": "<one short sentence>"}
  ]
}

Rules:
- Cover each match at most once.
- Ground every reason in the match data (estimate accuracy, stalls, late subtasks, outcome).
- Keep each reason under 25 words.
- Never invent facts that are not in the match data.`

// LLMRefiner adds model-written justifications to the top similarity
// matches. Scores and ordering are never touched, so rankings stay
// reproducible whether or not refinement runs.
type LLMRefiner struct {
	provider llm.Provider
	logger   zerolog.Logger
}

// NewLLMRefiner creates a refiner backed by the given provider.
func NewLLMRefiner(provider llm.Provider, logger zerolog.Logger) *LLMRefiner {
	return &LLMRefiner{
		provider: provider,
		logger:   logger.With().Str("component", "refiner").Logger(),
	}
}

type refineMatch struct {
	TaskID          string   `json:"taskId"`
	Title           string   `json:"title"`
	Category        string   `json:"category"`
	SimilarityScore int      `json:"similarityScore"`
	Outcome         string   `json:"outcome"`
	EstimateRatio   *float64 `json:"estimateRatio,omitempty"`
	SubtasksAdded   int      `json:"subtasksAdded"`
	StallMinutes    int      `json:"stallMinutes"`
}

// Refine asks the model for one justification per top match and appends
// each to that match's reasons. The input slice is left untouched.
func (r *LLMRefiner) Refine(ctx context.Context, title, description string, matches []Match) ([]Match, error) {
	if len(matches) == 0 {
		return matches, nil
	}
	top := len(matches)
	if top > refineTopN {
		top = refineTopN
	}

	payload := make([]refineMatch, 0, top)
	for _, m := range matches[:top] {
		rm := refineMatch{
			TaskID:          m.TaskID,
			Title:           m.Title,
			Category:        m.Category,
			SimilarityScore: m.SimilarityScore,
			Outcome:         m.Insights.Outcome,
			EstimateRatio:   m.Insights.EstimatedVsActual,
			SubtasksAdded:   m.Insights.SubtasksAdded,
		}
		for _, sp := range m.Insights.StallPoints {
			rm.StallMinutes += sp.Minutes
		}
		payload = append(payload, rm)
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("refine: marshal matches: %w", err)
	}

	userMsg := fmt.Sprintf("New task: %s", title)
	if description != "" {
		userMsg += "\nDescription: " + description
	}
	userMsg += "\n\nMatches:\n" + string(encoded)

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: refinePrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userMsg},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, fmt.Errorf("refine: llm call: %w", err)
	}

	var parsed struct {
		Justifications []struct {
			TaskID string `json:"taskId"`
			Reason string `json:"reason"`
		} `json:"justifications"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return nil, fmt.Errorf("refine: parse response: %w", err)
	}

	byID := make(map[string]string, len(parsed.Justifications))
	for _, j := range parsed.Justifications {
		if reason := strings.TrimSpace(j.Reason); reason != "" {
			byID[j.TaskID] = reason
		}
	}

	out := make([]Match, len(matches))
	copy(out, matches)
	for i := range out[:top] {
		reason, ok := byID[out[i].TaskID]
		if !ok {
			continue
		}
		reasons := make([]string, 0, len(out[i].MatchReasons)+1)
		reasons = append(reasons, out[i].MatchReasons...)
		out[i].MatchReasons = append(reasons, reason)
	}

	r.logger.Debug().
		Int("matches", top).
		Int("justified", len(byID)).
		Msg("refined similarity matches")
	return out, nil
}
