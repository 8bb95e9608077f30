// Package notify posts task events to Slack. Notifications are best
// effort: they run detached from the request that triggered them, and
// failures are logged, never surfaced to the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/daybook-hq/daybook/internal/store"
)

const postTimeout = 5 * time.Second

// PostAPI abstracts the Slack API client for testing.
type PostAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts completion notifications to one channel.
type Slack struct {
	api     PostAPI
	channel string
	timeout time.Duration
	logger  zerolog.Logger

	wg sync.WaitGroup
}

// NewSlack builds a notifier from a bot token and target channel.
func NewSlack(botToken, channel string, logger zerolog.Logger) *Slack {
	return &Slack{
		api:     slack.New(botToken),
		channel: channel,
		timeout: postTimeout,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// TaskCompleted posts a completion message. The post runs on its own
// goroutine with its own deadline; the caller's context is ignored so a
// finished request cannot cancel the notification it triggered.
func (s *Slack) TaskCompleted(_ context.Context, t *store.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		_, _, err := s.api.PostMessageContext(ctx, s.channel,
			slack.MsgOptionText(fmt.Sprintf("Task completed: %s", t.Title), false),
			slack.MsgOptionBlocks(completionBlocks(t)...),
		)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", t.ID).Msg("completion notification failed")
			return
		}
		s.logger.Debug().Str("task_id", t.ID).Msg("completion notification posted")
	}()
}

// Wait blocks until in-flight notifications finish. The shutdown path
// calls it so posts are not cut off mid-send; tests use it to observe
// the detached work.
func (s *Slack) Wait() {
	s.wg.Wait()
}

// truncate shortens s to max chars, appending "…" if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func completionBlocks(t *store.Task) []slack.Block {
	headline := fmt.Sprintf(":white_check_mark: *%s*", truncate(t.Title, 120))

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", headline, false, false),
			nil, nil,
		),
	}

	if detail := timingLine(t); detail != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", detail, false, false),
		))
	}
	return blocks
}

func timingLine(t *store.Task) string {
	switch {
	case t.ActualMinutes > 0 && t.EstimatedMinutes > 0:
		return fmt.Sprintf("Took %d min against a %d min estimate", t.ActualMinutes, t.EstimatedMinutes)
	case t.ActualMinutes > 0:
		return fmt.Sprintf("Took %d min", t.ActualMinutes)
	default:
		return ""
	}
}
