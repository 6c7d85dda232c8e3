// Package email delivers incident notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/bissquit/incident-pager/internal/notifications"
)

// Config holds email sender configuration.
type Config struct {
	Enabled     bool   `koanf:"enabled"`
	SMTPHost    string `koanf:"smtp_host"`
	SMTPPort    int    `koanf:"smtp_port"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	FromAddress string `koanf:"from"`
	// RequireTLS fails the delivery when the server does not offer STARTTLS.
	RequireTLS bool `koanf:"require_tls"`
}

// Validate reports missing settings of an enabled sender.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.SMTPHost == "" {
		errs = append(errs, errors.New("email: smtp_host is required when enabled"))
	}
	if c.FromAddress == "" {
		errs = append(errs, errors.New("email: from is required when enabled"))
	}
	return errors.Join(errs...)
}

// Sender implements notifications.EmailSender via SMTP.
type Sender struct {
	config Config
	auth   smtp.Auth
}

var _ notifications.EmailSender = (*Sender)(nil)

// NewSender creates a new email sender.
func NewSender(config Config) (*Sender, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.SMTPHost)
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Sender{config: config, auth: auth}, nil
}

// SendEmail delivers one message to a single recipient.
func (s *Sender) SendEmail(ctx context.Context, to, subject, body string) error {
	if !s.config.Enabled {
		slog.Warn("email sender disabled, skipping send", "to", to)
		return nil
	}
	if to == "" {
		return notifications.Permanent("email: empty recipient")
	}

	if err := s.send(ctx, to, buildMessage(s.config.FromAddress, to, subject, body)); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Sender) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.config.SMTPHost, fmt.Sprint(s.config.SMTPPort))

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Stop blocking SMTP I/O once ctx ends.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if s.config.RequireTLS {
		return errors.New("starttls: not offered by server")
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// buildMessage constructs the email message with headers.
func buildMessage(from, to, subject, body string) []byte {
	var msg strings.Builder

	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mimeSubject(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(msg.String())
}

// mimeSubject encodes non-ASCII subjects as an RFC 2047 word.
func mimeSubject(subject string) string {
	return mime.QEncoding.Encode("utf-8", subject)
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classify wraps err as a transient or permanent send failure. Network
// errors and SMTP 4xx replies are transient.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return notifications.Transient("email: %w", err)
		}
		return notifications.Permanent("email: %w", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return notifications.Transient("email: %w", err)
	}

	return notifications.Permanent("email: %w", err)
}
