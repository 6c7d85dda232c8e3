package app

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-pager/internal/config"
	"github.com/bissquit/incident-pager/internal/notifications"
	"github.com/bissquit/incident-pager/internal/notifications/email"
	"github.com/bissquit/incident-pager/internal/notifications/mattermost"
	"github.com/bissquit/incident-pager/internal/notifications/slack"
	"github.com/bissquit/incident-pager/internal/notifications/sms"
	"github.com/bissquit/incident-pager/internal/pkg/schedule"
	"golang.org/x/sync/errgroup"
)

// Notify consumes incident events and fans them out to the sinks until ctx
// is cancelled. With a PostgreSQL bus it also prunes the event log.
func (a *App) Notify(ctx context.Context) error {
	consumer, err := a.consumer()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return a.listen(ctx, "metrics", a.metricsServer())
	})
	g.Go(func() error {
		a.collectDBMetrics(ctx)
		return nil
	})

	if a.pgBus != nil && a.config.Events.Retention > 0 {
		g.Go(func() error {
			return schedule.Run(ctx, "event-log-prune", a.config.Events.PruneSchedule, a.prune)
		})
	}

	return g.Wait()
}

func (a *App) prune(ctx context.Context) error {
	deleted, err := a.pgBus.Prune(ctx, a.config.Events.Retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		a.logger.Info("pruned event log", "deleted", deleted, "retention", a.config.Events.Retention)
	}
	return nil
}

func (a *App) consumer() (*notifications.Consumer, error) {
	dispatcher, err := newDispatcher(a.config.Notifications)
	if err != nil {
		return nil, err
	}
	return notifications.NewConsumer(a.bus, dispatcher, a.config.Events.Topic, a.config.Events.Group), nil
}

// newDispatcher wires the configured sinks. Disabled sinks log instead of delivering.
func newDispatcher(cfg config.NotificationsConfig) (*notifications.Dispatcher, error) {
	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	senders, err := newSenders(cfg)
	if err != nil {
		return nil, err
	}

	return notifications.NewDispatcher(senders, renderer,
		notifications.WithTargets(cfg.Targets),
		notifications.WithSinkTimeout(cfg.SinkTimeout),
	), nil
}

func newSenders(cfg config.NotificationsConfig) (notifications.Senders, error) {
	logSender := notifications.LogSender{}
	senders := notifications.Senders{Email: logSender, SMS: logSender, Chat: logSender}

	if cfg.Email.Enabled {
		sender, err := email.NewSender(cfg.Email)
		if err != nil {
			return senders, fmt.Errorf("create email sender: %w", err)
		}
		senders.Email = sender
	}

	if cfg.SMS.Enabled {
		sender, err := sms.NewSender(cfg.SMS)
		if err != nil {
			return senders, fmt.Errorf("create sms sender: %w", err)
		}
		senders.SMS = sender
	}

	switch cfg.Chat.Provider {
	case config.ChatSlack:
		sender, err := slack.NewSender(cfg.Chat.Slack)
		if err != nil {
			return senders, fmt.Errorf("create slack sender: %w", err)
		}
		senders.Chat = sender
	case config.ChatMattermost:
		sender, err := mattermost.NewSender(cfg.Chat.Mattermost)
		if err != nil {
			return senders, fmt.Errorf("create mattermost sender: %w", err)
		}
		senders.Chat = sender
	}

	return senders, nil
}
