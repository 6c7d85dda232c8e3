package notifications

import (
	"context"

	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
)

// LogSender writes notifications to the log instead of delivering them. It
// stands in for any sink that has no transport configured.
type LogSender struct{}

// SendEmail logs an email.
func (LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	ctxlog.FromContext(ctx).Info("email notification", "to", to, "subject", subject, "body", body)
	return nil
}

// SendSMS logs a text message.
func (LogSender) SendSMS(ctx context.Context, to, message string) error {
	ctxlog.FromContext(ctx).Info("sms notification", "to", to, "message", message)
	return nil
}

// SendChat logs a chat message.
func (LogSender) SendChat(ctx context.Context, channel, message string) error {
	ctxlog.FromContext(ctx).Info("chat notification", "channel", channel, "message", message)
	return nil
}
