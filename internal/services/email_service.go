package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"comedores/internal/config"
	"comedores/internal/logger"
)

// Message is the one shape every notification takes; variants differ only in
// how they are built (see templates.go).
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Notifier delivers synchronously and reports failure to the caller.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type EmailService struct {
	dialer *gomail.Dialer
	from   string
	dryRun bool
	log    *zap.Logger
}

func NewEmailService(cfg config.EmailConfig, log *zap.Logger) *EmailService {
	return &EmailService{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:   cfg.FromEmail,
		dryRun: cfg.DryRun,
		log:    log.Named("email"),
	}
}

// Send delivers one message per recipient so addresses never leak to each
// other. It stops at the first failure.
func (s *EmailService) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("send email: no recipients")
	}
	for _, to := range msg.To {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		m := gomail.NewMessage()
		m.SetHeader("From", s.from)
		m.SetHeader("To", to)
		m.SetHeader("Subject", msg.Subject)
		m.SetBody("text/plain", msg.Body)

		if s.dryRun {
			s.log.Info("dry run: email not sent",
				zap.String("to", logger.MaskEmail(to)),
				zap.String("subject", msg.Subject))
			continue
		}
		if err := s.dialer.DialAndSend(m); err != nil {
			return fmt.Errorf("send email to %s: %w", logger.MaskEmail(to), err)
		}
		s.log.Debug("email sent", zap.String("to", logger.MaskEmail(to)), zap.String("subject", msg.Subject))
	}
	return nil
}
