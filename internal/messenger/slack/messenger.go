package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/taskrelay/internal/messenger"
)

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// NewClient returns a Slack web API client for a bot token.
func NewClient(token string) *slacklib.Client {
	return slacklib.New(token)
}

// SendOutcome posts a Block Kit summary of a finished session. The plain
// text fallback is used by notifications and clients without block support.
func (m *SlackMessenger) SendOutcome(ctx context.Context, channelID string, outcome messenger.Outcome) (messenger.MessageID, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channelID,
		slacklib.MsgOptionText(OutcomeText(outcome), false),
		slacklib.MsgOptionBlocks(BuildOutcomeBlocks(outcome)...),
	)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendOutcome: %w", err)
	}
	return messenger.MessageID(ts), nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return "slack"
}
