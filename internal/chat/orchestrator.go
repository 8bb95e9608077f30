// Package chat orchestrates exchanges with the language model. It
// resolves conversation threads, layers task and project context into
// the system prompt, and persists each exchange with its token counts.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daybook-hq/daybook/internal/clock"
	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/llm"
	"github.com/daybook-hq/daybook/internal/retry"
	"github.com/daybook-hq/daybook/internal/store"
)

// Conversation types. General is the free-form default; the rest mark
// threads opened by a specific AI operation.
const (
	TypeGeneral   = "general"
	TypeDecompose = "decompose"
	TypeEnrich    = "enrich"
	TypeResearch  = "research"
	TypeDraft     = "draft"
)

var validConversationTypes = map[string]bool{
	TypeGeneral:   true,
	TypeDecompose: true,
	TypeEnrich:    true,
	TypeResearch:  true,
	TypeDraft:     true,
}

// Streaming event types, matching the wire names clients consume.
const (
	EventStart = "message_start"
	EventDelta = "content_block_delta"
	EventStop  = "message_stop"
	EventError = "error"
)

const (
	// maxHistoryMessages bounds how many prior turns are replayed to the
	// model. Older turns still exist in storage, they just fall out of
	// the prompt window.
	maxHistoryMessages = 20

	titleLimit   = 60
	streamBuffer = 16
)

const baseSystemPrompt = `You are Daybook's assistant for personal task management. Help the user plan, unblock, and finish their work. Be concise and concrete. Use the task or project context below when it is present, and be specific when you reference it. When the user asks for content (a draft, a list, a plan), produce it directly instead of describing what you would do.`

// Event is one streaming exchange event. A start event opens the
// stream with the conversation ID, deltas carry text, and exactly one
// stop or error event ends it.
type Event struct {
	Type           string
	ConversationID string
	Text           string
	InputTokens    int
	OutputTokens   int
	Err            error
}

// SendInput describes one user turn. ConversationID continues an
// existing thread; otherwise a new conversation is opened, scoped to
// the optional task and project.
type SendInput struct {
	Message        string
	TaskID         string
	ProjectID      string
	ConversationID string
	Type           string        // conversation type for new threads, default general
	History        []llm.Message // client-supplied prior turns, used instead of stored history
}

// Reply is the buffered (non-streaming) result of an exchange.
type Reply struct {
	ConversationID string
	Content        string
	InputTokens    int
	OutputTokens   int
}

// Orchestrator runs conversations against the model provider and keeps
// them persisted.
type Orchestrator struct {
	store    *store.Store
	provider llm.Provider
	clock    clock.Clock
	retry    retry.Config
	logger   zerolog.Logger
}

func NewOrchestrator(st *store.Store, provider llm.Provider, clk clock.Clock, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		provider: provider,
		clock:    clk,
		retry:    retry.DefaultConfig(),
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

// complete is the buffered provider call. Throttling and 5xx replies
// are retried with backoff; streaming goes through Stream directly
// because a broken stream cannot be resumed mid-reply.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := retry.Do(ctx, o.retry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.provider.Complete(ctx, req)
		return callErr
	})
	return resp, err
}

// Send runs one buffered exchange: the user turn is persisted first,
// then the model is called, then the assistant turn lands with its
// token counts. A provider failure leaves the user turn in place.
func (o *Orchestrator) Send(ctx context.Context, userID string, in SendInput) (*Reply, error) {
	conv, req, err := o.prepare(userID, in, baseSystemPrompt)
	if err != nil {
		return nil, err
	}

	resp, err := o.complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	if _, err := o.appendTurn(conv.ID, llm.RoleAssistant, resp.Text, resp.InputTokens, resp.OutputTokens); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("conversation_id", conv.ID).
		Str("type", conv.Type).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Msg("exchange completed")

	return &Reply{
		ConversationID: conv.ID,
		Content:        resp.Text,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
	}, nil
}

// SendStream runs one streaming exchange. Validation, conversation
// resolution, and the user-turn write happen synchronously, so the
// caller sees those failures as plain errors before any event flows.
// The returned channel then carries start, deltas, and exactly one
// stop or error; it closes after the terminal event.
//
// The assistant turn is persisted only after the stream completes. An
// upstream failure or caller cancellation mid-stream discards the
// partial text: an unfinished assistant turn never reaches the
// conversation, and its counters never move.
func (o *Orchestrator) SendStream(ctx context.Context, userID string, in SendInput) (<-chan Event, error) {
	conv, req, err := o.prepare(userID, in, baseSystemPrompt)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, streamBuffer)
	go o.stream(ctx, conv, req, events)
	return events, nil
}

func (o *Orchestrator) stream(ctx context.Context, conv *store.Conversation, req llm.CompletionRequest, events chan<- Event) {
	defer close(events)

	if !o.emit(ctx, events, Event{Type: EventStart, ConversationID: conv.ID}) {
		return
	}

	tokens := make(chan llm.Token, streamBuffer)
	if err := o.provider.Stream(ctx, req, tokens); err != nil {
		o.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("stream request failed")
		o.emit(ctx, events, Event{Type: EventError, ConversationID: conv.ID, Err: fmt.Errorf("llm call: %w", err)})
		return
	}

	var full strings.Builder
	for tok := range tokens {
		switch {
		case tok.Error != nil:
			o.logger.Warn().Err(tok.Error).Str("conversation_id", conv.ID).Msg("stream broke mid-reply, dropping partial turn")
			o.emit(ctx, events, Event{Type: EventError, ConversationID: conv.ID, Err: tok.Error})
			return
		case tok.Done:
			if _, err := o.appendTurn(conv.ID, llm.RoleAssistant, full.String(), tok.InputTokens, tok.OutputTokens); err != nil {
				o.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("assistant turn write failed")
				o.emit(ctx, events, Event{Type: EventError, ConversationID: conv.ID, Err: err})
				return
			}
			o.logger.Info().
				Str("conversation_id", conv.ID).
				Str("type", conv.Type).
				Int("input_tokens", tok.InputTokens).
				Int("output_tokens", tok.OutputTokens).
				Msg("exchange completed")
			o.emit(ctx, events, Event{Type: EventStop, ConversationID: conv.ID, InputTokens: tok.InputTokens, OutputTokens: tok.OutputTokens})
			return
		default:
			full.WriteString(tok.Text)
			if !o.emit(ctx, events, Event{Type: EventDelta, ConversationID: conv.ID, Text: tok.Text}) {
				return
			}
		}
	}
}

// emit delivers ev unless the caller is gone. A false return means the
// context ended and the stream should stop pulling from upstream.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepare validates the input, resolves the conversation, builds the
// completion request, and persists the user turn. Everything before the
// conversation write is side-effect free.
func (o *Orchestrator) prepare(userID string, in SendInput, base string) (*store.Conversation, llm.CompletionRequest, error) {
	var req llm.CompletionRequest

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, req, apperrors.NewValidationError("message", "is required")
	}

	conv, err := o.resolve(userID, in, message)
	if err != nil {
		return nil, req, err
	}

	messages := o.historyFor(conv, in.History)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	req = llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: o.systemPrompt(userID, conv, base),
	}

	if _, err := o.appendTurn(conv.ID, llm.RoleUser, message, 0, 0); err != nil {
		return nil, req, err
	}
	return conv, req, nil
}

// resolve returns the referenced conversation or opens a new one.
// Scoping references are ownership-checked here, before anything is
// written.
func (o *Orchestrator) resolve(userID string, in SendInput, message string) (*store.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := o.store.GetConversation(userID, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, apperrors.NotFound("Conversation")
		}
		return conv, nil
	}

	convType := in.Type
	if convType == "" {
		convType = TypeGeneral
	}
	if !validConversationTypes[convType] {
		return nil, apperrors.NewValidationError("conversationType", "must be one of general, decompose, enrich, research, draft")
	}

	if in.TaskID != "" {
		t, err := o.store.GetTask(userID, in.TaskID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, apperrors.NotFound("Task")
		}
	}
	if in.ProjectID != "" {
		p, err := o.store.GetProject(userID, in.ProjectID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NotFound("Project")
		}
	}

	now := o.clock.Now().UnixMilli()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		TaskID:    in.TaskID,
		ProjectID: in.ProjectID,
		Type:      convType,
		Title:     deriveTitle(message),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateConversation(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// historyFor picks the prior turns replayed to the model: the client's
// supplied history when present, stored messages otherwise. Either way
// the window is capped and only user/assistant roles pass through.
func (o *Orchestrator) historyFor(conv *store.Conversation, supplied []llm.Message) []llm.Message {
	var out []llm.Message

	if len(supplied) > 0 {
		for _, m := range supplied {
			if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
				continue
			}
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, m)
		}
	} else {
		msgs, err := o.store.ListMessages(conv.ID, 0)
		if err != nil {
			o.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("history load failed, continuing without it")
			return nil
		}
		for _, m := range msgs {
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	if len(out) > maxHistoryMessages {
		out = out[len(out)-maxHistoryMessages:]
	}
	return out
}

// systemPrompt layers task and project context onto the base
// instructions. Context is appended, never replacing the base, and a
// failed context read degrades to the base prompt rather than failing
// the exchange.
func (o *Orchestrator) systemPrompt(userID string, conv *store.Conversation, base string) string {
	var b strings.Builder
	b.WriteString(base)

	if conv.TaskID != "" {
		t, err := o.store.GetTask(userID, conv.TaskID)
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Str("task_id", conv.TaskID).Msg("task context unavailable")
		case t != nil:
			b.WriteString("\n\n")
			b.WriteString(o.taskContext(userID, t))
		}
	}

	if conv.ProjectID != "" {
		p, err := o.store.GetProject(userID, conv.ProjectID)
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Str("project_id", conv.ProjectID).Msg("project context unavailable")
		case p != nil:
			b.WriteString("\n\n")
			b.WriteString(o.projectContext(userID, p))
		}
	}

	return b.String()
}

func (o *Orchestrator) taskContext(userID string, t *store.Task) string {
	var b strings.Builder
	b.WriteString("Current task:\n")
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	fmt.Fprintf(&b, "Status: %s, priority %s\n", t.Status, t.Priority)
	if t.DueDate > 0 {
		fmt.Fprintf(&b, "Due: %s\n", time.UnixMilli(t.DueDate).UTC().Format("2006-01-02"))
	}
	if t.EstimatedMinutes > 0 {
		fmt.Fprintf(&b, "Estimate: %d minutes\n", t.EstimatedMinutes)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}

	subtasks, err := o.store.ListTasks(userID, store.TaskFilter{ParentID: t.ID})
	if err != nil {
		o.logger.Warn().Err(err).Str("task_id", t.ID).Msg("subtask context unavailable")
	}
	if len(subtasks) > 0 {
		b.WriteString("Subtasks:\n")
		for _, sub := range subtasks {
			fmt.Fprintf(&b, "- %s (%s)\n", sub.Title, sub.Status)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) projectContext(userID string, p *store.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s", p.Name)
	if total, completed, err := o.store.CountProjectTasks(userID, p.ID); err == nil && total > 0 {
		fmt.Fprintf(&b, " (%d of %d tasks completed)", completed, total)
	}
	b.WriteString("\n")
	if p.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", p.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) appendTurn(convID, role, content string, inputTokens, outputTokens int) (*store.Message, error) {
	m := &store.Message{
		ID:             store.NewID(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CreatedAt:      o.clock.Now().UnixMilli(),
	}
	if err := o.store.AppendMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Conversations lists the caller's threads, optionally scoped to one
// task, most recently active first.
func (o *Orchestrator) Conversations(userID, taskID string, limit int) ([]*store.Conversation, error) {
	convs, err := o.store.ListConversations(userID, taskID, limit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	return convs, nil
}

// Messages returns a conversation's persisted turns in order.
func (o *Orchestrator) Messages(userID, conversationID string) ([]*store.Message, error) {
	conv, err := o.store.GetConversation(userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}
	msgs, err := o.store.ListMessages(conversationID, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return msgs, nil
}

// deriveTitle turns the opening message into a short thread title.
func deriveTitle(message string) string {
	title := message
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Join(strings.Fields(title), " ")
	runes := []rune(title)
	if len(runes) > titleLimit {
		title = strings.TrimRight(string(runes[:titleLimit]), " ") + "..."
	}
	return title
}
