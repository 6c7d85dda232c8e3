// Package slack posts incident notifications to Slack channels with a bot token.
package slack

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bissquit/incident-pager/internal/notifications"
	"github.com/slack-go/slack"
)

// Config holds Slack sender configuration.
type Config struct {
	BotToken string `koanf:"bot_token"`
	// Username overrides the bot display name when the app allows it.
	Username string `koanf:"username"`
}

// Client is the subset of the Slack API the sender uses.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Sender implements notifications.ChatSender.
type Sender struct {
	client   Client
	username string
}

var _ notifications.ChatSender = (*Sender)(nil)

// NewSender creates a sender backed by the Slack Web API.
func NewSender(config Config) (*Sender, error) {
	if config.BotToken == "" {
		return nil, errors.New("slack: bot_token is required")
	}
	return NewSenderWithClient(slack.New(config.BotToken), config.Username), nil
}

// NewSenderWithClient creates a sender on top of an existing client.
func NewSenderWithClient(client Client, username string) *Sender {
	return &Sender{client: client, username: username}
}

// SendChat posts message to channel. The channel may be a name with or
// without the leading '#', or a channel id.
func (s *Sender) SendChat(ctx context.Context, channel, message string) error {
	if channel == "" {
		return notifications.Permanent("slack: empty channel")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(message, false)}
	if s.username != "" {
		opts = append(opts, slack.MsgOptionUsername(s.username))
	}

	channelID, ts, err := s.client.PostMessageContext(ctx, strings.TrimPrefix(channel, "#"), opts...)
	if err != nil {
		return classify(err)
	}

	slog.Debug("slack message posted", "channel", channelID, "ts", ts)
	return nil
}

// classify maps Slack API errors onto send failures. Rate limits, 5xx
// responses and transport errors are transient; API error responses such as
// channel_not_found or invalid_auth are permanent.
func classify(err error) error {
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return notifications.Transient("slack: %w", err)
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return notifications.Transient("slack: %w", err)
		}
		return notifications.Permanent("slack: %w", err)
	}

	var apiErr slack.SlackErrorResponse
	var apiErrPtr *slack.SlackErrorResponse
	if errors.As(err, &apiErr) || errors.As(err, &apiErrPtr) {
		return notifications.Permanent("slack: %w", err)
	}

	return notifications.Transient("slack: %w", err)
}
