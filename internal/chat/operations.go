package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/artifact"
	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/store"
)

// Operation prompts share one contract: the model answers with a single
// JSON object and nothing else, so parsing is a plain unmarshal. A
// reply that does not parse is an upstream fault, not a user error.

var decomposePrompt = `You break a task into concrete subtasks.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "subtasks": [{"title": "...", "estimatedMinutes": 30}],
  "reasoning": "one or two sentences on how you split the work"
}

Rules:
- 3 to 7 subtasks, each small enough to finish in one sitting
- titles are imperative and specific, no numbering
- estimatedMinutes is optional; omit it rather than guessing wildly
- subtasks together must cover the task, no filler steps`

var enrichPrompt = `You estimate and classify a task before work starts.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "estimatedMinutes": 60,
  "category": "writing",
  "subtasks": ["...", "..."],
  "reasoning": "one or two sentences"
}

Rules:
- estimatedMinutes is total expected effort, between 5 and 480
- category is one lowercase word: writing, coding, research, admin, design, planning, or other
- subtasks lists 0 to 5 planned steps in execution order
- base the estimate on the task itself, not optimism`

var researchPrompt = `You research a topic for a task and report findings.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "summary": "what you found, in plain prose",
  "sources": [{"title": "...", "url": "https://..."}]
}

Rules:
- summary is 150 to 400 words and specific enough to act on
- list 2 to 6 sources, primary material first
- never invent a URL; omit the source instead`

var draftPrompt = `You write a first draft the user will edit.

Respond ONLY with valid JSON (no markdown, no explanation):
{
  "title": "...",
  "content": "the full draft text"
}

Rules:
- match the kind of document requested (email, document, outline, post)
- write the real thing, not a description of it
- keep the user's stated constraints on length, tone, and audience`

// Operations are the prompted AI endpoints layered on the orchestrator:
// decompose, enrich, research, and draft. Each runs one exchange in a
// fresh conversation of its own type and persists what it produced.
type Operations struct {
	orch      *Orchestrator
	artifacts *artifact.Service
	store     *store.Store
	logger    zerolog.Logger
}

func NewOperations(orch *Orchestrator, artifacts *artifact.Service, logger zerolog.Logger) *Operations {
	return &Operations{
		orch:      orch,
		artifacts: artifacts,
		store:     orch.store,
		logger:    logger.With().Str("component", "ai_ops").Logger(),
	}
}

// ProposedSubtask is one step suggested by decomposition.
type ProposedSubtask struct {
	Title            string `json:"title"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
}

// DecomposeResult carries the suggested breakdown and where it landed.
type DecomposeResult struct {
	ConversationID string
	Artifact       *store.TaskContext
	Subtasks       []ProposedSubtask
	Reasoning      string
}

// Decompose proposes subtasks for a task and stores them as a
// suggestion artifact. Applying them is the client's call; the artifact
// records whether that happened.
func (p *Operations) Decompose(ctx context.Context, userID, taskID, guidance string) (*DecomposeResult, error) {
	goal := "Break this task into subtasks."
	if g := strings.TrimSpace(guidance); g != "" {
		goal += "\nGuidance: " + g
	}

	conv, raw, err := p.exchange(ctx, userID, taskID, TypeDecompose, decomposePrompt, goal)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Subtasks  []ProposedSubtask `json:"subtasks"`
		Reasoning string            `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, p.malformed("decompose", raw, err)
	}

	var subtasks []ProposedSubtask
	var titles []string
	for _, s := range parsed.Subtasks {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		subtasks = append(subtasks, ProposedSubtask{Title: title, EstimatedMinutes: s.EstimatedMinutes})
		titles = append(titles, title)
	}
	if len(subtasks) == 0 {
		return nil, p.malformed("decompose", raw, nil)
	}

	art, err := p.artifacts.Save(userID, artifact.SaveInput{
		TaskID:  taskID,
		Type:    artifact.TypeSuggestion,
		Title:   "Suggested subtasks",
		Content: renderSuggestion(subtasks, parsed.Reasoning),
		Metadata: map[string]interface{}{
			"subtasks": titles,
			"applied":  false,
		},
		ConversationID: conv.ID,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("task_id", taskID).
		Str("artifact_id", art.ID).
		Int("subtasks", len(subtasks)).
		Msg("decomposition saved")

	return &DecomposeResult{
		ConversationID: conv.ID,
		Artifact:       art,
		Subtasks:       subtasks,
		Reasoning:      parsed.Reasoning,
	}, nil
}

// Enrich generates an enrichment proposal for a task: an effort
// estimate, a category, and planned subtasks. The proposal starts in
// the proposed state; nothing touches the task until it is applied.
func (p *Operations) Enrich(ctx context.Context, userID, taskID string) (*store.Proposal, error) {
	_, raw, err := p.exchange(ctx, userID, taskID, TypeEnrich, enrichPrompt, "Estimate and plan this task.")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		EstimatedMinutes int      `json:"estimatedMinutes"`
		Category         string   `json:"category"`
		Subtasks         []string `json:"subtasks"`
		Reasoning        string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, p.malformed("enrich", raw, err)
	}
	if parsed.EstimatedMinutes < 0 {
		parsed.EstimatedMinutes = 0
	}

	var titles []string
	for _, t := range parsed.Subtasks {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	subtasksJSON, err := json.Marshal(titles)
	if err != nil {
		return nil, fmt.Errorf("encode subtasks: %w", err)
	}

	now := p.orch.clock.Now().UnixMilli()
	prop := &store.Proposal{
		ID:               uuid.New().String(),
		TaskID:           taskID,
		UserID:           userID,
		Status:           store.ProposalProposed,
		EstimatedMinutes: parsed.EstimatedMinutes,
		Category:         strings.ToLower(strings.TrimSpace(parsed.Category)),
		Subtasks:         string(subtasksJSON),
		Reasoning:        parsed.Reasoning,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.store.CreateProposal(prop); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("task_id", taskID).
		Str("proposal_id", prop.ID).
		Int("estimated_minutes", prop.EstimatedMinutes).
		Str("category", prop.Category).
		Msg("enrichment proposed")

	return prop, nil
}

// Source is one reference backing a research artifact.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ResearchResult carries the findings and the stored artifact.
type ResearchResult struct {
	ConversationID string
	Artifact       *store.TaskContext
	Sources        []Source
}

// Research produces findings for a task and stores them as a research
// artifact with the sources in metadata.
func (p *Operations) Research(ctx context.Context, userID, taskID, query string) (*ResearchResult, error) {
	goal := "Research this task."
	title := "Research notes"
	if q := strings.TrimSpace(query); q != "" {
		goal = "Research: " + q
		title = "Research: " + q
	}

	conv, raw, err := p.exchange(ctx, userID, taskID, TypeResearch, researchPrompt, goal)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Summary string   `json:"summary"`
		Sources []Source `json:"sources"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, p.malformed("research", raw, err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return nil, p.malformed("research", raw, nil)
	}

	art, err := p.artifacts.Save(userID, artifact.SaveInput{
		TaskID:  taskID,
		Type:    artifact.TypeResearch,
		Title:   title,
		Content: parsed.Summary,
		Metadata: map[string]interface{}{
			"sources": parsed.Sources,
		},
		ConversationID: conv.ID,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("task_id", taskID).
		Str("artifact_id", art.ID).
		Int("sources", len(parsed.Sources)).
		Msg("research saved")

	return &ResearchResult{ConversationID: conv.ID, Artifact: art, Sources: parsed.Sources}, nil
}

// DraftResult carries the stored draft artifact.
type DraftResult struct {
	ConversationID string
	Artifact       *store.TaskContext
}

// Draft writes a first draft for a task and stores it as a draft
// artifact, with the word count and requested kind in metadata.
func (p *Operations) Draft(ctx context.Context, userID, taskID, kind, instructions string) (*DraftResult, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = "document"
	}

	goal := "Write a " + kind + " for this task."
	if ins := strings.TrimSpace(instructions); ins != "" {
		goal += "\nInstructions: " + ins
	}

	conv, raw, err := p.exchange(ctx, userID, taskID, TypeDraft, draftPrompt, goal)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, p.malformed("draft", raw, err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return nil, p.malformed("draft", raw, nil)
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = "Draft " + kind
	}

	art, err := p.artifacts.Save(userID, artifact.SaveInput{
		TaskID:  taskID,
		Type:    artifact.TypeDraft,
		Title:   title,
		Content: parsed.Content,
		Metadata: map[string]interface{}{
			"wordCount": len(strings.Fields(parsed.Content)),
			"subtype":   kind,
		},
		ConversationID: conv.ID,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("task_id", taskID).
		Str("artifact_id", art.ID).
		Str("subtype", kind).
		Msg("draft saved")

	return &DraftResult{ConversationID: conv.ID, Artifact: art}, nil
}

// exchange runs one prompted request through a fresh conversation of
// the given type and persists both turns.
func (p *Operations) exchange(ctx context.Context, userID, taskID, convType, system, goal string) (*store.Conversation, string, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, "", apperrors.NewValidationError("taskId", "is required")
	}

	conv, req, err := p.orch.prepare(userID, SendInput{Message: goal, TaskID: taskID, Type: convType}, system)
	if err != nil {
		return nil, "", err
	}

	resp, err := p.orch.complete(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("llm call: %w", err)
	}

	if _, err := p.orch.appendTurn(conv.ID, llm.RoleAssistant, resp.Text, resp.InputTokens, resp.OutputTokens); err != nil {
		return nil, "", err
	}
	return conv, resp.Text, nil
}

func (p *Operations) malformed(op, raw string, err error) error {
	snippet := raw
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	p.logger.Warn().Err(err).Str("op", op).Str("reply", snippet).Msg("model reply did not parse")
	return apperrors.NewUpstreamError("anthropic", http.StatusBadGateway, "model returned an unusable reply")
}

func renderSuggestion(subtasks []ProposedSubtask, reasoning string) string {
	var b strings.Builder
	for _, s := range subtasks {
		b.WriteString("- ")
		b.WriteString(s.Title)
		if s.EstimatedMinutes > 0 {
			fmt.Fprintf(&b, " (~%d min)", s.EstimatedMinutes)
		}
		b.WriteByte('\n')
	}
	if reasoning != "" {
		b.WriteByte('\n')
		b.WriteString(reasoning)
		b.WriteByte('\n')
	}
	return b.String()
}
