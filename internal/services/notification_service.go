package services

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NotificationService sends the platform alerts. Mail is authoritative; the
// ops channel is best effort.
type NotificationService struct {
	mail Notifier
	ops  Notifier
	log  *zap.Logger
}

func NewNotificationService(mail Notifier, ops Notifier, log *zap.Logger) *NotificationService {
	return &NotificationService{mail: mail, ops: ops, log: log.Named("notifications")}
}

func (s *NotificationService) NotifyNewPublication(ctx context.Context, recipients []string, comedor, title string) error {
	if strings.TrimSpace(comedor) == "" {
		return invalidInput("comedor", "required")
	}
	if strings.TrimSpace(title) == "" {
		return invalidInput("title", "required")
	}
	return s.dispatch(ctx, NewPublicationMessage(cleanRecipients(recipients), comedor, title))
}

func (s *NotificationService) NotifyNewDonation(ctx context.Context, recipients []string, comedor, donor string, items []DonationItem) error {
	switch {
	case strings.TrimSpace(comedor) == "":
		return invalidInput("comedor", "required")
	case strings.TrimSpace(donor) == "":
		return invalidInput("donor", "required")
	case len(items) == 0:
		return invalidInput("items", "required")
	}
	return s.dispatch(ctx, NewDonationMessage(cleanRecipients(recipients), comedor, donor, items))
}

func (s *NotificationService) dispatch(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return invalidInput("recipients", "at least one is required")
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.log.Warn("alert delivery failed", zap.String("subject", msg.Subject), zap.Error(err))
		return deliveryFailed(err)
	}
	if s.ops != nil {
		if err := s.ops.Send(ctx, msg); err != nil {
			s.log.Warn("ops mirror failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}
	return nil
}

func cleanRecipients(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
