// Package artifact stores versioned AI-generated content attached to tasks.
package artifact

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
)

// Artifact types. Each (task, type) pair versions independently.
const (
	TypeResearch   = "research"
	TypeDraft      = "draft"
	TypeOutline    = "outline"
	TypeSummary    = "summary"
	TypeSuggestion = "suggestion"
	TypeNote       = "note"
)

var validTypes = map[string]bool{
	TypeResearch:   true,
	TypeDraft:      true,
	TypeOutline:    true,
	TypeSummary:    true,
	TypeSuggestion: true,
	TypeNote:       true,
}

// ValidType reports whether t names a known artifact type.
func ValidType(t string) bool { return validTypes[t] }

// SaveInput describes a new artifact version.
type SaveInput struct {
	TaskID         string
	Type           string
	Title          string
	Content        string
	Metadata       map[string]interface{}
	ConversationID string
}

// Service guards artifact reads and writes with task ownership checks.
type Service struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewService creates an artifact service.
func NewService(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("component", "artifact").Logger(),
	}
}

// Save appends a new current version for (task, type). The previous
// current row, if any, is superseded in the same transaction.
func (s *Service) Save(userID string, in SaveInput) (*store.TaskContext, error) {
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	if !ValidType(in.Type) {
		return nil, apperrors.NewValidationError("type",
			"must be one of research, draft, outline, summary, suggestion, note")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperrors.NewValidationError("content", "is required")
	}

	// Ownership gates everything. A task that exists under another
	// account reads the same as one that does not exist.
	task, err := s.store.GetTask(userID, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	if task == nil {
		return nil, apperrors.NotFound("Task")
	}

	metadata := ""
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apperrors.NewValidationError("metadata", "must be a JSON object")
		}
		metadata = string(raw)
	}

	tc := &store.TaskContext{
		ID:             store.NewID(),
		TaskID:         in.TaskID,
		UserID:         userID,
		Type:           in.Type,
		Title:          strings.TrimSpace(in.Title),
		Content:        in.Content,
		Metadata:       metadata,
		ConversationID: in.ConversationID,
	}
	if err := s.store.SaveContext(tc); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	s.logger.Info().
		Str("task_id", tc.TaskID).
		Str("type", tc.Type).
		Int("version", tc.Version).
		Msg("artifact saved")
	return tc, nil
}

// List returns artifacts for a task the caller owns. currentOnly
// restricts to the authoritative version per type; otherwise the full
// history comes back ordered by last update.
func (s *Service) List(userID, taskID, artifactType string, currentOnly bool) ([]*store.TaskContext, error) {
	if artifactType != "" && !ValidType(artifactType) {
		return nil, apperrors.NewValidationError("type",
			"must be one of research, draft, outline, summary, suggestion, note")
	}

	task, err := s.store.GetTask(userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if task == nil {
		return nil, apperrors.NotFound("Task")
	}

	contexts, err := s.store.ListContexts(userID, store.ContextFilter{
		TaskID:      taskID,
		Type:        artifactType,
		CurrentOnly: currentOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	if contexts == nil {
		contexts = []*store.TaskContext{}
	}
	return contexts, nil
}

// Current returns the single current artifact of a type, or nil.
func (s *Service) Current(userID, taskID, artifactType string) (*store.TaskContext, error) {
	task, err := s.store.GetTask(userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	if task == nil {
		return nil, apperrors.NotFound("Task")
	}
	return s.store.GetCurrentContext(taskID, artifactType)
}
