package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// Broadcaster publishes a message once to a shared destination.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) error
}

// slackClient is the subset of the Slack API the mirror uses.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackMirror copies supervisor notifications into a Slack channel.
type SlackMirror struct {
	client    slackClient
	channelID string
}

// NewSlackMirror creates a mirror backed by a bot token.
func NewSlackMirror(botToken, channelID string) *SlackMirror {
	return &SlackMirror{client: slackapi.New(botToken), channelID: channelID}
}

// Broadcast posts msg. Messages for other audiences are skipped.
func (s *SlackMirror) Broadcast(ctx context.Context, msg Message) error {
	if msg.Audience != AudienceSupervisors {
		return nil
	}
	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body)
	if msg.URL != "" {
		text += "\n" + msg.URL
	}
	if _, _, err := s.client.PostMessageContext(ctx, s.channelID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
