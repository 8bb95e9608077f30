package task

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
)

// ApplyProposal applies an enrichment proposal: stamps the task's
// estimate and category, creates the planned subtasks, then marks the
// proposal accepted. Acceptance is what makes the task eligible for an
// execution history snapshot at completion.
func (s *Service) ApplyProposal(userID, proposalID string) (*store.Task, *store.Proposal, error) {
	p, err := s.store.GetProposal(userID, proposalID)
	if err != nil {
		return nil, nil, fmt.Errorf("apply proposal: %w", err)
	}
	if p == nil {
		return nil, nil, apperrors.NotFound("Proposal")
	}
	if p.Status != store.ProposalProposed {
		return nil, nil, fmt.Errorf("proposal already %s: %w", p.Status, apperrors.ErrConflict)
	}

	t, err := s.Get(userID, p.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status == StatusCompleted || t.Status == StatusCancelled {
		return nil, nil, fmt.Errorf("task already finished: %w", apperrors.ErrConflict)
	}

	if p.EstimatedMinutes > 0 {
		t.EstimatedMinutes = p.EstimatedMinutes
	}
	if p.Category != "" {
		t.Category = p.Category
	}
	if err := s.store.UpdateTask(t); err != nil {
		return nil, nil, fmt.Errorf("apply proposal: %w", err)
	}

	var titles []string
	if err := json.Unmarshal([]byte(p.Subtasks), &titles); err != nil {
		return nil, nil, fmt.Errorf("apply proposal: bad subtask list: %w", err)
	}
	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		if _, err := s.Create(userID, CreateInput{
			Title:    title,
			ParentID: t.ID,
			Priority: t.Priority,
		}); err != nil {
			return nil, nil, fmt.Errorf("apply proposal: create subtask: %w", err)
		}
	}

	// The acceptance gate flips last, after every planned change landed.
	if err := s.store.SetProposalStatus(userID, proposalID, store.ProposalAccepted); err != nil {
		return nil, nil, fmt.Errorf("apply proposal: %w", err)
	}
	p.Status = store.ProposalAccepted

	s.logger.Info().
		Str("task_id", t.ID).
		Str("proposal_id", proposalID).
		Int("subtasks", len(titles)).
		Msg("enrichment proposal applied")
	return t, p, nil
}
