// Package sms delivers incident notifications through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-pager/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 1.0
	defaultBurst     = 5
)

// Config holds SMS gateway configuration.
type Config struct {
	Enabled    bool          `koanf:"enabled"`
	GatewayURL string        `koanf:"gateway_url"`
	APIKey     string        `koanf:"api_key"`
	From       string        `koanf:"from"`
	RateLimit  float64       `koanf:"rate_limit"` // messages per second
	Burst      int           `koanf:"burst"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Validate reports missing settings of an enabled sender.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.GatewayURL == "" {
		return errors.New("sms: gateway_url is required when enabled")
	}
	return nil
}

// Sender implements notifications.SMSSender.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ notifications.SMSSender = (*Sender)(nil)

// NewSender creates a new SMS sender.
func NewSender(config Config) (*Sender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst <= 0 {
		config.Burst = defaultBurst
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
		"burst", config.Burst,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}, nil
}

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SendSMS delivers message to the phone number to.
func (s *Sender) SendSMS(ctx context.Context, to, message string) error {
	if !s.config.Enabled {
		slog.Debug("sms sender disabled, skipping", "to", to)
		return nil
	}
	if to == "" {
		return notifications.Permanent("sms: empty phone number")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.Transient("sms: rate limit wait: %w", err)
	}

	body, err := json.Marshal(sendRequest{To: to, From: s.config.From, Text: message})
	if err != nil {
		return notifications.Permanent("sms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return notifications.Permanent("sms: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Transient("sms: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := string(raw)
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		reason = parsed.Error
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return notifications.Transient("sms gateway error %d: rate limited%s", resp.StatusCode, retryAfter(resp))
	case resp.StatusCode >= 500:
		return notifications.Transient("sms gateway error %d: %s", resp.StatusCode, reason)
	default:
		return notifications.Permanent("sms gateway error %d: %s", resp.StatusCode, reason)
	}
}

func retryAfter(resp *http.Response) string {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return ""
	}
	return fmt.Sprintf(", retry after %s", time.Duration(secs)*time.Second)
}
