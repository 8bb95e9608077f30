package httpapi

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/daybook-hq/daybook/internal/chat"
	"github.com/daybook-hq/daybook/internal/insight"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

var validate = validator.New()

// Request bodies.

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"displayName" validate:"max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createTaskRequest struct {
	Title            string `json:"title" validate:"required,max=500"`
	Description      string `json:"description"`
	Status           string `json:"status" validate:"omitempty,oneof=pending in_progress blocked"`
	Priority         string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Category         string `json:"category" validate:"max=60"`
	ProjectID        string `json:"projectId"`
	ParentID         string `json:"parentId"`
	DueDate          int64  `json:"dueDate"`
	EstimatedMinutes int    `json:"estimatedMinutes" validate:"min=0"`
}

type updateTaskRequest struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	Status           *string `json:"status"`
	Priority         *string `json:"priority"`
	Category         *string `json:"category"`
	ProjectID        *string `json:"projectId"`
	ParentID         *string `json:"parentId"`
	DueDate          *int64  `json:"dueDate"`
	EstimatedMinutes *int    `json:"estimatedMinutes"`
	ActualMinutes    *int    `json:"actualMinutes"`
	BlockedReason    *string `json:"blockedReason"`
}

type completeTaskRequest struct {
	Abandoned     bool `json:"abandoned"`
	ActualMinutes int  `json:"actualMinutes" validate:"min=0"`
}

type projectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
	Color       string `json:"color" validate:"max=30"`
}

type saveContextRequest struct {
	TaskID         string                 `json:"taskId" validate:"required"`
	Type           string                 `json:"type" validate:"required"`
	Title          string                 `json:"title" validate:"max=500"`
	Content        string                 `json:"content" validate:"required"`
	Metadata       map[string]interface{} `json:"metadata"`
	ConversationID string                 `json:"conversationId"`
}

type chatRequest struct {
	Message          string        `json:"message" validate:"required"`
	TaskID           string        `json:"taskId"`
	ProjectID        string        `json:"projectId"`
	ConversationID   string        `json:"conversationId"`
	ConversationType string        `json:"conversationType"`
	History          []chatMessage `json:"conversationHistory"`
	Stream           *bool         `json:"stream"` // default true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type decomposeRequest struct {
	TaskID   string `json:"taskId" validate:"required"`
	Guidance string `json:"guidance"`
}

type enrichRequest struct {
	TaskID string `json:"taskId" validate:"required"`
}

type researchRequest struct {
	TaskID string `json:"taskId" validate:"required"`
	Query  string `json:"query"`
}

type draftRequest struct {
	TaskID       string `json:"taskId" validate:"required"`
	Kind         string `json:"kind"`
	Instructions string `json:"instructions"`
}

type similarTasksRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Limit       int    `json:"limit" validate:"min=0,max=20"`
	Refine      bool   `json:"refine"`
}

type githubImportRequest struct {
	Owner  string   `json:"owner" validate:"required"`
	Repo   string   `json:"repo" validate:"required"`
	Labels []string `json:"labels"`
	Limit  int      `json:"limit" validate:"min=0"`
}

// Wire shapes. Zero-valued optional fields stay off the wire.

type userJSON struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

func shapeUser(u *store.User) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

type taskJSON struct {
	ID               string `json:"id"`
	ProjectID        string `json:"projectId,omitempty"`
	ParentID         string `json:"parentId,omitempty"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"status"`
	Priority         string `json:"priority"`
	Category         string `json:"category,omitempty"`
	DueDate          int64  `json:"dueDate,omitempty"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
	ActualMinutes    int    `json:"actualMinutes,omitempty"`
	StartedAt        int64  `json:"startedAt,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
	CompletedAt      int64  `json:"completedAt,omitempty"`
}

func shapeTask(t *store.Task) taskJSON {
	return taskJSON{
		ID:               t.ID,
		ProjectID:        t.ProjectID,
		ParentID:         t.ParentID,
		Title:            t.Title,
		Description:      t.Description,
		Status:           t.Status,
		Priority:         t.Priority,
		Category:         t.Category,
		DueDate:          t.DueDate,
		EstimatedMinutes: t.EstimatedMinutes,
		ActualMinutes:    t.ActualMinutes,
		StartedAt:        t.StartedAt,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func shapeTasks(tasks []*store.Task) []taskJSON {
	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, shapeTask(t))
	}
	return out
}

type projectJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Color          string `json:"color,omitempty"`
	TaskCount      int    `json:"taskCount"`
	CompletedCount int    `json:"completedCount"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func shapeProject(p *store.Project, total, completed int) projectJSON {
	return projectJSON{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Color:          p.Color,
		TaskCount:      total,
		CompletedCount: completed,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func shapeProjectSummary(p *task.ProjectSummary) projectJSON {
	return shapeProject(p.Project, p.TaskCount, p.CompletedCount)
}

type contextJSON struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"taskId"`
	ConversationID string          `json:"conversationId,omitempty"`
	Type           string          `json:"type"`
	Title          string          `json:"title,omitempty"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Version        int             `json:"version"`
	IsCurrent      bool            `json:"isCurrent"`
	CreatedAt      int64           `json:"createdAt"`
	UpdatedAt      int64           `json:"updatedAt"`
}

func shapeContext(tc *store.TaskContext) contextJSON {
	out := contextJSON{
		ID:             tc.ID,
		TaskID:         tc.TaskID,
		ConversationID: tc.ConversationID,
		Type:           tc.Type,
		Title:          tc.Title,
		Content:        tc.Content,
		Version:        tc.Version,
		IsCurrent:      tc.IsCurrent,
		CreatedAt:      tc.CreatedAt,
		UpdatedAt:      tc.UpdatedAt,
	}
	if tc.Metadata != "" {
		out.Metadata = json.RawMessage(tc.Metadata)
	}
	return out
}

func shapeContexts(rows []*store.TaskContext) []contextJSON {
	out := make([]contextJSON, 0, len(rows))
	for _, tc := range rows {
		out = append(out, shapeContext(tc))
	}
	return out
}

type proposalJSON struct {
	ID               string   `json:"id"`
	TaskID           string   `json:"taskId"`
	Status           string   `json:"status"`
	EstimatedMinutes int      `json:"estimatedMinutes,omitempty"`
	Category         string   `json:"category,omitempty"`
	Subtasks         []string `json:"subtasks"`
	Reasoning        string   `json:"reasoning,omitempty"`
	CreatedAt        int64    `json:"createdAt"`
	AppliedAt        int64    `json:"appliedAt,omitempty"`
}

func shapeProposal(p *store.Proposal) proposalJSON {
	titles := []string{}
	if p.Subtasks != "" {
		_ = json.Unmarshal([]byte(p.Subtasks), &titles)
	}
	return proposalJSON{
		ID:               p.ID,
		TaskID:           p.TaskID,
		Status:           p.Status,
		EstimatedMinutes: p.EstimatedMinutes,
		Category:         p.Category,
		Subtasks:         titles,
		Reasoning:        p.Reasoning,
		CreatedAt:        p.CreatedAt,
		AppliedAt:        p.AppliedAt,
	}
}

type conversationJSON struct {
	ID            string `json:"id"`
	TaskID        string `json:"taskId,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	Type          string `json:"type"`
	Title         string `json:"title,omitempty"`
	MessageCount  int    `json:"messageCount"`
	TotalTokens   int    `json:"totalTokens"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

func shapeConversation(conv *store.Conversation) conversationJSON {
	return conversationJSON{
		ID:            conv.ID,
		TaskID:        conv.TaskID,
		ProjectID:     conv.ProjectID,
		Type:          conv.Type,
		Title:         conv.Title,
		MessageCount:  conv.MessageCount,
		TotalTokens:   conv.TotalTokens,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}
}

type messageJSON struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	InputTokens    int    `json:"inputTokens,omitempty"`
	OutputTokens   int    `json:"outputTokens,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

func shapeMessage(m *store.Message) messageJSON {
	return messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		CreatedAt:      m.CreatedAt,
	}
}

type stallPointJSON struct {
	Reason  string `json:"reason"`
	Minutes int    `json:"minutes"`
}

type executionInsightsJSON struct {
	EstimatedVsActual  *float64         `json:"estimatedVsActual"`
	WasOverEstimate    bool             `json:"wasOverEstimate"`
	WasUnderEstimate   bool             `json:"wasUnderEstimate"`
	SubtasksAdded      int              `json:"subtasksAdded"`
	AddedSubtaskTitles []string         `json:"addedSubtaskTitles"`
	StallPoints        []stallPointJSON `json:"stallPoints"`
	Outcome            string           `json:"outcome"`
}

type matchJSON struct {
	TaskID            string                `json:"taskId"`
	Title             string                `json:"title"`
	Category          string                `json:"category,omitempty"`
	SimilarityScore   int                   `json:"similarityScore"`
	MatchReasons      []string              `json:"matchReasons"`
	CompletedAt       int64                 `json:"completedAt"`
	ExecutionInsights executionInsightsJSON `json:"executionInsights"`
}

type aggregatedJSON struct {
	AvgEstimationAccuracy float64  `json:"avgEstimationAccuracy"`
	CommonSubtasksAdded   []string `json:"commonSubtasksAdded"`
	CommonStallPoints     []string `json:"commonStallPoints"`
	SuccessRate           float64  `json:"successRate"`
	SampleSize            int      `json:"sampleSize"`
}

func shapeMatches(matches []insight.Match) []matchJSON {
	out := make([]matchJSON, 0, len(matches))
	for _, m := range matches {
		ins := executionInsightsJSON{
			EstimatedVsActual:  m.Insights.EstimatedVsActual,
			WasOverEstimate:    m.Insights.WasOverEstimate,
			WasUnderEstimate:   m.Insights.WasUnderEstimate,
			SubtasksAdded:      m.Insights.SubtasksAdded,
			AddedSubtaskTitles: m.Insights.AddedTitles,
			StallPoints:        make([]stallPointJSON, 0, len(m.Insights.StallPoints)),
			Outcome:            m.Insights.Outcome,
		}
		for _, sp := range m.Insights.StallPoints {
			ins.StallPoints = append(ins.StallPoints, stallPointJSON{Reason: sp.Reason, Minutes: sp.Minutes})
		}
		reasons := m.MatchReasons
		if reasons == nil {
			reasons = []string{}
		}
		out = append(out, matchJSON{
			TaskID:            m.TaskID,
			Title:             m.Title,
			Category:          m.Category,
			SimilarityScore:   m.SimilarityScore,
			MatchReasons:      reasons,
			CompletedAt:       m.CompletedAt,
			ExecutionInsights: ins,
		})
	}
	return out
}

func shapeAggregated(a insight.Aggregated) aggregatedJSON {
	return aggregatedJSON{
		AvgEstimationAccuracy: a.AvgEstimationAccuracy,
		CommonSubtasksAdded:   a.CommonSubtasksAdded,
		CommonStallPoints:     a.CommonStallPoints,
		SuccessRate:           a.SuccessRate,
		SampleSize:            a.SampleSize,
	}
}

type historyJSON struct {
	TaskID             string           `json:"taskId"`
	Title              string           `json:"title"`
	Category           string           `json:"category,omitempty"`
	EstimatedMinutes   int              `json:"estimatedMinutes,omitempty"`
	ActualMinutes      int              `json:"actualMinutes,omitempty"`
	EstimateRatio      *float64         `json:"estimateRatio"`
	DaysOverdue        *int             `json:"daysOverdue"`
	Outcome            string           `json:"outcome"`
	SubtasksTotal      int              `json:"subtasksTotal"`
	SubtasksAddedLate  int              `json:"subtasksAddedLate"`
	StallMinutes       int              `json:"stallMinutes"`
	StallPoints        []stallPointJSON `json:"stallPoints"`
	AddedSubtaskTitles []string         `json:"addedSubtaskTitles"`
	CompletedAt        int64            `json:"completedAt"`
}

func shapeHistory(h *store.History) historyJSON {
	out := historyJSON{
		TaskID:             h.TaskID,
		Title:              h.Title,
		Category:           h.Category,
		EstimatedMinutes:   h.EstimatedMinutes,
		ActualMinutes:      h.ActualMinutes,
		EstimateRatio:      h.EstimateRatio,
		DaysOverdue:        h.DaysOverdue,
		Outcome:            h.Outcome,
		SubtasksTotal:      h.SubtasksTotal,
		SubtasksAddedLate:  h.SubtasksAddedLate,
		StallMinutes:       h.StallMinutes,
		StallPoints:        []stallPointJSON{},
		AddedSubtaskTitles: []string{},
		CompletedAt:        h.CompletedAt,
	}
	var points []insight.StallPoint
	if json.Unmarshal([]byte(h.StallEvents), &points) == nil {
		for _, sp := range points {
			out.StallPoints = append(out.StallPoints, stallPointJSON{Reason: sp.Reason, Minutes: sp.Minutes})
		}
	}
	_ = json.Unmarshal([]byte(h.AddedSubtaskTitles), &out.AddedSubtaskTitles)
	return out
}

type subtaskJSON struct {
	Title            string `json:"title"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
}

func shapeSubtasks(subtasks []chat.ProposedSubtask) []subtaskJSON {
	out := make([]subtaskJSON, 0, len(subtasks))
	for _, s := range subtasks {
		out = append(out, subtaskJSON{Title: s.Title, EstimatedMinutes: s.EstimatedMinutes})
	}
	return out
}
