package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/noah-isme/auth-api/pkg/config"
)

//go:embed templates/base_email.html
var templateFS embed.FS

var baseTemplate = template.Must(template.ParseFS(templateFS, "templates/base_email.html"))

// Message is a rendered notification ready for delivery.
type Message struct {
	To         string
	ToName     string
	Subject    string
	Body       string
	ActionURL  string
	ActionText string
	FooterText string
}

// Sender delivers a message to a single sink.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers messages over SMTP using gomail.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender builds an SMTP sink from mail configuration.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send renders the message into the base HTML template and dials SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var html bytes.Buffer
	if err := baseTemplate.Execute(&html, msg); err != nil {
		return fmt.Errorf("render email template: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", html.String())

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender mirrors messages to the application log. Used in development and
// as the secondary sink of the fan-out sender.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a log sink.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send writes the message to the log instead of delivering it.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("outbound email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("action_url", msg.ActionURL),
	)
	return nil
}

// MultiSender fans a message out to every sink and reports partial failure
// as a joined error instead of hiding secondary sink results.
type MultiSender struct {
	sinks []Sender
}

// NewMultiSender combines sinks into a single fan-out sender.
func NewMultiSender(sinks ...Sender) *MultiSender {
	return &MultiSender{sinks: sinks}
}

// Send attempts delivery on all sinks. Every sink is tried even when an
// earlier one fails.
func (s *MultiSender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
