package httpapi

import (
	"bufio"
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/daybook-hq/daybook/internal/chat"
	"github.com/daybook-hq/daybook/internal/ghimport"
	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/llm"
)

// sseEvent is the JSON payload of one text/event-stream line.
type sseEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Delta          *sseDelta `json:"delta,omitempty"`
	Usage          *sseUsage `json:"usage,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type sseDelta struct {
	Text string `json:"text"`
}

type sseUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// chatHandler handles POST /api/v1/ai/chat, streaming by default.
func (s *Server) chatHandler(c *fiber.Ctx) error {
	if s.chat == nil {
		return aiUnavailable(c)
	}

	var req chatRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	in := chat.SendInput{
		Message:        req.Message,
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		ConversationID: req.ConversationID,
		Type:           req.ConversationType,
	}
	for _, m := range req.History {
		in.History = append(in.History, llm.Message{Role: m.Role, Content: m.Content})
	}

	if req.Stream == nil || *req.Stream {
		return s.chatStream(c, in)
	}

	reply, err := s.chat.Send(c.UserContext(), userIDOf(c), in)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"conversationId": reply.ConversationID,
		"content":        reply.Content,
		"usage": sseUsage{
			InputTokens:  reply.InputTokens,
			OutputTokens: reply.OutputTokens,
		},
	})
}

// chatStream forwards orchestrator events as server-sent events. The
// exchange's validation and user-turn write happen before any byte of
// the stream, so those failures still render as plain JSON errors. A
// client disconnect cancels the upstream call; the orchestrator
// discards the partial turn.
func (s *Server) chatStream(c *fiber.Ctx, in chat.SendInput) error {
	ctx, cancel := context.WithCancel(c.UserContext())

	events, err := s.chat.SendStream(ctx, userIDOf(c), in)
	if err != nil {
		cancel()
		return s.respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for ev := range events {
			if err := writeSSE(w, shapeSSE(ev)); err != nil {
				// Writer gone: stop pulling from upstream and let the
				// orchestrator drop the partial turn.
				cancel()
				for range events {
				}
				return
			}
		}
	}))
	return nil
}

func shapeSSE(ev chat.Event) sseEvent {
	out := sseEvent{Type: ev.Type}
	switch ev.Type {
	case chat.EventStart:
		out.ConversationID = ev.ConversationID
	case chat.EventDelta:
		out.Delta = &sseDelta{Text: ev.Text}
	case chat.EventStop:
		out.ConversationID = ev.ConversationID
		out.Usage = &sseUsage{InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens}
	case chat.EventError:
		out.Error = "The AI service failed mid-reply"
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	}
	return out
}

func writeSSE(w *bufio.Writer, ev sseEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// decompose handles POST /api/v1/ai/decompose.
func (s *Server) decompose(c *fiber.Ctx) error {
	if s.ops == nil {
		return aiUnavailable(c)
	}
	var req decomposeRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	res, err := s.ops.Decompose(c.UserContext(), userIDOf(c), req.TaskID, req.Guidance)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"conversationId": res.ConversationID,
		"context":        shapeContext(res.Artifact),
		"subtasks":       shapeSubtasks(res.Subtasks),
		"reasoning":      res.Reasoning,
	})
}

// enrich handles POST /api/v1/ai/enrich: proposes an estimate,
// category, and plan. Nothing touches the task until the proposal is
// applied.
func (s *Server) enrich(c *fiber.Ctx) error {
	if s.ops == nil {
		return aiUnavailable(c)
	}
	var req enrichRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	prop, err := s.ops.Enrich(c.UserContext(), userIDOf(c), req.TaskID)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusCreated, fiber.Map{"proposal": shapeProposal(prop)})
}

// applyEnrichment handles POST /api/v1/ai/enrich/:id/apply. Acceptance
// makes the task eligible for an execution snapshot at completion.
func (s *Server) applyEnrichment(c *fiber.Ctx) error {
	t, prop, err := s.tasks.ApplyProposal(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"task":     shapeTask(t),
		"proposal": shapeProposal(prop),
	})
}

// research handles POST /api/v1/ai/research.
func (s *Server) research(c *fiber.Ctx) error {
	if s.ops == nil {
		return aiUnavailable(c)
	}
	var req researchRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	res, err := s.ops.Research(c.UserContext(), userIDOf(c), req.TaskID, req.Query)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"conversationId": res.ConversationID,
		"context":        shapeContext(res.Artifact),
		"sources":        res.Sources,
	})
}

// draft handles POST /api/v1/ai/draft, the tightest-budgeted class.
func (s *Server) draft(c *fiber.Ctx) error {
	if s.ops == nil {
		return aiUnavailable(c)
	}
	var req draftRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	res, err := s.ops.Draft(c.UserContext(), userIDOf(c), req.TaskID, req.Kind, req.Instructions)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"conversationId": res.ConversationID,
		"context":        shapeContext(res.Artifact),
	})
}

// similarTasks handles POST /api/v1/ai/similar-tasks. Heuristic
// matching always works; refine=true additionally runs the model over
// the top matches when a provider is configured.
func (s *Server) similarTasks(c *fiber.Ctx) error {
	var req similarTasksRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	engine := s.insights
	if req.Refine && s.refined != nil {
		engine = s.refined
	}

	res, err := engine.FindSimilar(c.UserContext(), userIDOf(c), req.Title, req.Description, req.Limit)
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{
		"tasks":              shapeMatches(res.Matches),
		"aggregatedInsights": shapeAggregated(res.Aggregated),
	})
}

// insightsSummary handles GET /api/v1/insights/summary.
func (s *Server) insightsSummary(c *fiber.Ctx) error {
	sum, err := s.insights.Summarize(userIDOf(c))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"summary": shapeSummary(sum)})
}

type summaryJSON struct {
	TasksTracked          int            `json:"tasksTracked"`
	AvgEstimationAccuracy float64        `json:"avgEstimationAccuracy"`
	OnTimeRate            float64        `json:"onTimeRate"`
	OutcomeCounts         map[string]int `json:"outcomeCounts"`
	CommonStallPoints     []string       `json:"commonStallPoints"`
	CommonSubtasksAdded   []string       `json:"commonSubtasksAdded"`
}

func shapeSummary(sum *insight.Summary) summaryJSON {
	return summaryJSON{
		TasksTracked:          sum.TasksTracked,
		AvgEstimationAccuracy: sum.AvgEstimationAccuracy,
		OnTimeRate:            sum.OnTimeRate,
		OutcomeCounts:         sum.OutcomeCounts,
		CommonStallPoints:     sum.CommonStallPoints,
		CommonSubtasksAdded:   sum.CommonSubtasksAdded,
	}
}

// getBriefing handles GET /api/v1/briefing?refresh=.
func (s *Server) getBriefing(c *fiber.Ctx) error {
	b, err := s.briefings.Get(c.UserContext(), userIDOf(c), c.QueryBool("refresh", false))
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"briefing": b})
}

// importGitHub handles POST /api/v1/import/github.
func (s *Server) importGitHub(c *fiber.Ctx) error {
	if s.importer == nil {
		return respondErrorMessage(c, fiber.StatusServiceUnavailable,
			"GitHub import is not configured on this server")
	}

	var req githubImportRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	res, err := s.importer.Import(c.UserContext(), userIDOf(c), ghimport.Input{
		Owner:  req.Owner,
		Repo:   req.Repo,
		Labels: req.Labels,
		Limit:  req.Limit,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return respondData(c, fiber.StatusCreated, fiber.Map{
		"tasks":   shapeTasks(res.Created),
		"skipped": res.Skipped,
	})
}

// listConversations handles GET /api/v1/conversations?taskId=&limit=.
func (s *Server) listConversations(c *fiber.Ctx) error {
	if s.chat == nil {
		return respondData(c, fiber.StatusOK, fiber.Map{"conversations": []conversationJSON{}})
	}
	convs, err := s.chat.Conversations(userIDOf(c), c.Query("taskId"), c.QueryInt("limit", 0))
	if err != nil {
		return s.respondError(c, err)
	}
	out := make([]conversationJSON, 0, len(convs))
	for _, conv := range convs {
		out = append(out, shapeConversation(conv))
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"conversations": out})
}

// listMessages handles GET /api/v1/conversations/:id/messages.
func (s *Server) listMessages(c *fiber.Ctx) error {
	if s.chat == nil {
		return respondErrorMessage(c, fiber.StatusNotFound, "Conversation not found")
	}
	msgs, err := s.chat.Messages(userIDOf(c), c.Params("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, shapeMessage(m))
	}
	return respondData(c, fiber.StatusOK, fiber.Map{"messages": out})
}
