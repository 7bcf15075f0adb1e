package services

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramService mirrors alerts to an operations chat. A nil *TelegramService
// is valid and drops everything.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegramService returns nil, nil when the integration is not configured.
func NewTelegramService(token string, chatID int64, log *zap.Logger) (*TelegramService, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramServiceWithBot(bot, chatID, log), nil
}

func NewTelegramServiceWithBot(bot *tgbotapi.BotAPI, chatID int64, log *zap.Logger) *TelegramService {
	return &TelegramService{bot: bot, chatID: chatID, log: log.Named("telegram")}
}

// Send ignores msg.To: the ops chat is the only destination.
func (t *TelegramService) Send(ctx context.Context, msg Message) error {
	if t == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(t.chatID, msg.Subject+"\n\n"+msg.Body)
	m.DisableWebPagePreview = true
	if _, err := t.bot.Send(m); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.log.Debug("ops alert sent", zap.String("subject", msg.Subject))
	return nil
}
