package services

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	zlog "github.com/rs/zerolog/log"
)

// TelegramSender mirrors in-app notices to a linked Telegram chat.
type TelegramSender interface {
	SendMessage(chatID int64, text string) error
}

type TelegramService struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramService connects the bot. An empty token yields a service that
// skips every message.
func NewTelegramService(botToken string) (*TelegramService, error) {
	if botToken == "" {
		return &TelegramService{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramService{bot: bot}, nil
}

func (t *TelegramService) SendMessage(chatID int64, text string) error {
	if t == nil || t.bot == nil || chatID == 0 {
		zlog.Debug().Int64("chat_id", chatID).Msg("[tg][skip] bot or chat not configured")
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return nil
}
