package task

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
)

// ProjectInput describes a project create or update.
type ProjectInput struct {
	Name        string
	Description string
	Color       string
}

// ProjectSummary is a project with its task counts.
type ProjectSummary struct {
	*store.Project
	TaskCount      int
	CompletedCount int
}

// CreateProject validates and inserts a new project.
func (s *Service) CreateProject(userID string, in ProjectInput) (*store.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperrors.NewValidationError("name", "is required")
	}

	p := &store.Project{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.logger.Info().Str("project_id", p.ID).Msg("project created")
	return p, nil
}

// GetProject returns a project the caller owns, with task counts.
func (s *Service) GetProject(userID, id string) (*ProjectSummary, error) {
	p, err := s.store.GetProject(userID, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p == nil {
		return nil, apperrors.NotFound("Project")
	}

	total, completed, err := s.store.CountProjectTasks(userID, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &ProjectSummary{Project: p, TaskCount: total, CompletedCount: completed}, nil
}

// ListProjects returns the caller's projects with task counts.
func (s *Service) ListProjects(userID string) ([]*ProjectSummary, error) {
	projects, err := s.store.ListProjects(userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	summaries := make([]*ProjectSummary, 0, len(projects))
	for _, p := range projects {
		total, completed, err := s.store.CountProjectTasks(userID, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		summaries = append(summaries, &ProjectSummary{Project: p, TaskCount: total, CompletedCount: completed})
	}
	return summaries, nil
}

// UpdateProject applies a partial project update; empty fields are left alone.
func (s *Service) UpdateProject(userID, id string, in ProjectInput) (*store.Project, error) {
	p, err := s.store.GetProject(userID, id)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	if p == nil {
		return nil, apperrors.NotFound("Project")
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		p.Name = name
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.Color != "" {
		p.Color = in.Color
	}

	if err := s.store.UpdateProject(p); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project. Its tasks survive unassigned.
func (s *Service) DeleteProject(userID, id string) error {
	p, err := s.store.GetProject(userID, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if p == nil {
		return apperrors.NotFound("Project")
	}
	if err := s.store.DeleteProject(userID, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
