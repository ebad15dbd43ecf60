// Package notification delivers short staff notifications through a
// Telegram bot.
package notification

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// MessageSender is the part of *tgbotapi.BotAPI the notifier uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts plain-text messages to one chat.
type Telegram struct {
	bot     MessageSender
	chatID  int64
	backoff time.Duration
	logger  zerolog.Logger
}

// NewTelegram authenticates the bot token against the Bot API.
func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID, logger.With().Str("bot", bot.Self.UserName).Logger()), nil
}

func NewTelegramWithSender(bot MessageSender, chatID int64, logger zerolog.Logger) *Telegram {
	logger.Info().Int64("chat_id", chatID).Msg("telegram notifications enabled")
	return &Telegram{bot: bot, chatID: chatID, backoff: retryBackoff, logger: logger}
}

// Notify sends text, retrying transient failures until ctx ends.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(msg); err != nil {
			lastErr = err
			t.logger.Warn().Err(err).Int("attempt", attempt).Msg("telegram send failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.backoff * time.Duration(attempt)):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("telegram send after %d attempts: %w", maxAttempts, lastErr)
}

// Nop drops notifications. Used when no bot token is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }
