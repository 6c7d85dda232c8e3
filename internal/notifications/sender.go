package notifications

import "context"

// Sink identifies a notification transport.
type Sink string

// Sinks.
const (
	SinkEmail Sink = "email"
	SinkSMS   Sink = "sms"
	SinkChat  Sink = "chat"
)

// EmailSender delivers one email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// ChatSender posts one message to a chat channel.
type ChatSender interface {
	SendChat(ctx context.Context, channel, message string) error
}

// Senders groups the transports available to the dispatcher. A nil sender
// makes every route to its sink fail with ErrNoSender.
type Senders struct {
	Email EmailSender
	SMS   SMSSender
	Chat  ChatSender
}
