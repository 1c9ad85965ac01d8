package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/model"
)

// EmailConfig holds SMTP settings for the email sink
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSink sends alert notifications over SMTP
type EmailSink struct {
	logger *zap.Logger
	config EmailConfig
}

// NewEmailSink creates an email sink
func NewEmailSink(logger *zap.Logger, config EmailConfig) *EmailSink {
	return &EmailSink{
		logger: logger.Named("email-sink"),
		config: config,
	}
}

// Name implements Sink
func (s *EmailSink) Name() string { return "email" }

// Send implements Sink
func (s *EmailSink) Send(ctx context.Context, recipient *model.StaffMember, summary AlertSummary) error {
	auth := smtp.PlainAuth("",
		s.config.Username,
		s.config.Password,
		s.config.Host)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		s.config.From,
		recipient.Email,
		summary.SummarySubject(),
		summary.Message)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	return smtp.SendMail(addr, auth, s.config.From, []string{recipient.Email}, []byte(msg))
}

// InAppSink publishes notifications on a per-recipient NATS subject for the
// in-app notification consumer
type InAppSink struct {
	logger *zap.Logger
	nc     *nats.Conn
}

// NewInAppSink creates an in-app sink
func NewInAppSink(logger *zap.Logger, nc *nats.Conn) *InAppSink {
	return &InAppSink{
		logger: logger.Named("inapp-sink"),
		nc:     nc,
	}
}

// Name implements Sink
func (s *InAppSink) Name() string { return "in_app" }

// Send implements Sink
func (s *InAppSink) Send(ctx context.Context, recipient *model.StaffMember, summary AlertSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	subject := fmt.Sprintf("staff.notify.%s", recipient.ID)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
