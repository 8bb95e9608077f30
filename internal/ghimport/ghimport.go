// Package ghimport turns open GitHub issues into pending tasks.
package ghimport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/daybook-hq/daybook/internal/clock"
	apperrors "github.com/daybook-hq/daybook/internal/errors"
	"github.com/daybook-hq/daybook/internal/store"
	"github.com/daybook-hq/daybook/internal/task"
)

const (
	defaultLimit = 20
	maxLimit     = 50

	// bodyLimit keeps huge issue bodies from swamping the task list.
	bodyLimit = 2000
)

// IssueLister is the slice of the GitHub API the importer needs.
type IssueLister interface {
	ListByRepo(ctx context.Context, owner, repo string, opts *gh.IssueListByRepoOptions) ([]*gh.Issue, *gh.Response, error)
}

// Importer copies a repository's open issues into a user's task list.
type Importer struct {
	issues IssueLister
	store  *store.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// New builds an importer authenticated with a personal access token.
func New(token string, st *store.Store, clk clock.Clock, logger zerolog.Logger) *Importer {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 30 * time.Second
	client := gh.NewClient(httpClient)
	return &Importer{
		issues: client.Issues,
		store:  st,
		clock:  clk,
		logger: logger.With().Str("component", "ghimport").Logger(),
	}
}

// Input selects which issues to import.
type Input struct {
	Owner  string
	Repo   string
	Labels []string // all must match, per the GitHub API
	Limit  int
}

// Result reports what one import run did.
type Result struct {
	Created []*store.Task
	Skipped int // pull requests arriving through the issues API
}

// Import lists the repository's open issues and creates a pending task
// for each one, carrying the labels into a priority and the issue link
// into the description.
func (im *Importer) Import(ctx context.Context, userID string, in Input) (*Result, error) {
	owner := strings.TrimSpace(in.Owner)
	repo := strings.TrimSpace(in.Repo)
	if owner == "" {
		return nil, apperrors.NewValidationError("owner", "is required")
	}
	if repo == "" {
		return nil, apperrors.NewValidationError("repo", "is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	issues, _, err := im.issues.ListByRepo(ctx, owner, repo, &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      in.Labels,
		ListOptions: gh.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, upstreamErr(err)
	}

	now := im.clock.Now().UnixMilli()
	res := &Result{Created: []*store.Task{}}
	for _, issue := range issues {
		if issue.PullRequestLinks != nil {
			res.Skipped++
			continue
		}
		if len(res.Created) == limit {
			break
		}

		t := &store.Task{
			ID:          uuid.New().String(),
			UserID:      userID,
			Title:       issue.GetTitle(),
			Description: description(issue),
			Status:      task.StatusPending,
			Priority:    priorityFromLabels(issue.Labels),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := im.store.CreateTask(t); err != nil {
			return nil, fmt.Errorf("create task for issue #%d: %w", issue.GetNumber(), err)
		}
		res.Created = append(res.Created, t)
	}

	im.logger.Info().
		Str("user_id", userID).
		Str("repo", owner+"/"+repo).
		Int("created", len(res.Created)).
		Int("skipped", res.Skipped).
		Msg("issues imported")

	return res, nil
}

func description(issue *gh.Issue) string {
	body := strings.TrimSpace(issue.GetBody())
	if len(body) > bodyLimit {
		body = body[:bodyLimit] + "…"
	}
	link := "Imported from " + issue.GetHTMLURL()
	if body == "" {
		return link
	}
	return body + "\n\n" + link
}

func priorityFromLabels(labels []*gh.Label) string {
	for _, l := range labels {
		switch strings.ToLower(l.GetName()) {
		case "urgent", "critical", "p0":
			return task.PriorityUrgent
		case "high", "bug", "p1":
			return task.PriorityHigh
		case "low", "nice-to-have", "p3":
			return task.PriorityLow
		}
	}
	return task.PriorityMedium
}

func upstreamErr(err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return apperrors.NewUpstreamError("github", ghErr.Response.StatusCode, ghErr.Message)
	}
	return apperrors.NewUpstreamError("github", http.StatusBadGateway, err.Error())
}
