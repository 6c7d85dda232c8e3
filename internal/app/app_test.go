package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/config"
	"github.com/bissquit/incident-pager/internal/domain"
	"github.com/bissquit/incident-pager/internal/eventbus"
	"github.com/bissquit/incident-pager/internal/notifications"
	"github.com/bissquit/incident-pager/internal/notifications/mattermost"
	"github.com/bissquit/incident-pager/internal/notifications/slack"
	"github.com/bissquit/incident-pager/internal/notifications/sms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Validate())

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRouter_Probes(t *testing.T) {
	a := newMemoryApp(t)
	router := a.Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "OK", rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "commit")
	assert.Contains(t, body, "build_date")
}

func TestRouter_RequiresToken(t *testing.T) {
	a := newMemoryApp(t)

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_CreatePublishesEvent(t *testing.T) {
	a := newMemoryApp(t)

	tok, err := a.tokens.Issue(1, time.Hour)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []domain.IncidentEvent
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = a.bus.Subscribe(ctx, a.config.Events.Topic, "test", func(_ context.Context, msg eventbus.Message) error {
			var event domain.IncidentEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				return err
			}
			mu.Lock()
			received = append(received, event)
			mu.Unlock()
			return nil
		})
	}()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents", strings.NewReader(`{"title":"db down","severity":"P1"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventTypeCreated, received[0].EventType)
	assert.Equal(t, "db down", received[0].Title)
	assert.Nil(t, received[0].PreviousStatus)
}

func TestNewSenders(t *testing.T) {
	t.Run("defaults log", func(t *testing.T) {
		senders, err := newSenders(config.Default().Notifications)
		require.NoError(t, err)
		assert.IsType(t, notifications.LogSender{}, senders.Email)
		assert.IsType(t, notifications.LogSender{}, senders.SMS)
		assert.IsType(t, notifications.LogSender{}, senders.Chat)
	})

	t.Run("configured sinks", func(t *testing.T) {
		cfg := config.Default().Notifications
		cfg.SMS = sms.Config{Enabled: true, GatewayURL: "http://sms.example.com/send"}
		cfg.Chat.Provider = config.ChatSlack
		cfg.Chat.Slack = slack.Config{BotToken: "xoxb-test"}

		senders, err := newSenders(cfg)
		require.NoError(t, err)
		assert.IsType(t, &sms.Sender{}, senders.SMS)
		assert.IsType(t, &slack.Sender{}, senders.Chat)
		assert.IsType(t, notifications.LogSender{}, senders.Email)
	})

	t.Run("mattermost", func(t *testing.T) {
		cfg := config.Default().Notifications
		cfg.Chat.Provider = config.ChatMattermost
		cfg.Chat.Mattermost = mattermost.Config{WebhookURL: "https://mm.example.com/hooks/abc"}

		senders, err := newSenders(cfg)
		require.NoError(t, err)
		assert.IsType(t, &mattermost.Sender{}, senders.Chat)
	})

	t.Run("invalid email", func(t *testing.T) {
		cfg := config.Default().Notifications
		cfg.Email.Enabled = true

		_, err := newSenders(cfg)
		assert.ErrorContains(t, err, "create email sender")
	})
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "text"})
	assert.False(t, logger.Enabled(context.Background(), -4))
	assert.True(t, logger.Enabled(context.Background(), 4))
}
