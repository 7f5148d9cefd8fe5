package email

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-events/internal/domain"

	"github.com/wneessen/go-mail"
)

// Mailer delivers a single plain-text message.
type Mailer interface {
	Send(ctx context.Context, address, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) Mailer {
	return &smtpMailer{cfg: cfg}
}

func (m *smtpMailer) Send(ctx context.Context, address, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(address); err != nil {
		return fmt.Errorf("recipient %q: %w", address, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: smtp client: %v", domain.ErrDownstreamUnavailable, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: smtp send: %v", domain.ErrDownstreamUnavailable, err)
	}
	return nil
}

// logMailer writes messages to the log instead of sending them. It is used
// when no SMTP host is configured.
type logMailer struct {
	log *slog.Logger
}

func NewLogMailer(logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &logMailer{log: logger.With("component", "mailer")}
}

func (m *logMailer) Send(ctx context.Context, address, subject, body string) error {
	m.log.Info("email", "to", address, "subject", subject, "body", body)
	return nil
}
