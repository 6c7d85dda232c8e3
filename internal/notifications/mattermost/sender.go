// Package mattermost posts incident notifications through a Mattermost incoming webhook.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/incident-pager/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Incident Pager"
)

// Config holds Mattermost sender configuration.
type Config struct {
	WebhookURL string        `koanf:"webhook_url"`
	Username   string        `koanf:"username"`
	IconURL    string        `koanf:"icon_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Sender implements notifications.ChatSender via an incoming webhook. The
// channel argument overrides the webhook's default channel.
type Sender struct {
	config     Config
	httpClient *http.Client
}

var _ notifications.ChatSender = (*Sender)(nil)

// NewSender creates a new Mattermost sender.
func NewSender(config Config) (*Sender, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("mattermost: webhook_url is required")
	}
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

type webhookPayload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// SendChat posts message to channel.
func (s *Sender) SendChat(ctx context.Context, channel, message string) error {
	payload := webhookPayload{
		Text:     message,
		Channel:  strings.TrimPrefix(channel, "#"),
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return notifications.Permanent("mattermost: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return notifications.Permanent("mattermost: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Transient("mattermost: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, payload.Channel)
}

func (s *Sender) handleResponse(resp *http.Response, channel string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return notifications.Transient("mattermost: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		slog.Debug("mattermost message sent", "webhook", maskWebhookURL(s.config.WebhookURL), "channel", channel)
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return notifications.Permanent("mattermost error %d: bad request: %s", resp.StatusCode, body)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return notifications.Permanent("mattermost error %d: invalid or expired webhook", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return notifications.Permanent("mattermost error %d: webhook not found", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return notifications.Transient("mattermost error %d: rate limited", resp.StatusCode)
	case resp.StatusCode >= 500:
		return notifications.Transient("mattermost error %d: server error: %s", resp.StatusCode, body)
	default:
		return notifications.Permanent("mattermost: unexpected status %d: %s", resp.StatusCode, body)
	}
}

// maskWebhookURL hides part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// String hides the webhook secret.
func (s *Sender) String() string {
	return fmt.Sprintf("mattermost(%s)", maskWebhookURL(s.config.WebhookURL))
}
