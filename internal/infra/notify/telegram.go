// File: internal/infra/notify/telegram.go
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/domain/ports/adapter"
)

var _ adapter.ResultNotifier = (*TelegramNotifier)(nil)

// TelegramNotifier delivers generation results to the user's chat. Results go
// out as a document so Telegram does not recompress them; when the local file
// is missing it falls back to sending the remote URL as a photo.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
	log *zerolog.Logger
}

func NewTelegramNotifier(token string, log *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	log.Info().Str("username", bot.Self.UserName).Msg("telegram notifier ready")
	return &TelegramNotifier{bot: bot, log: log}, nil
}

func (n *TelegramNotifier) NotifyResult(ctx context.Context, res adapter.ResultNotification) error {
	caption := res.Prompt
	if len(caption) > 1024 {
		caption = caption[:1024]
	}

	if res.Variant == "photo" || res.LocalPath == "" {
		return n.sendPhoto(res, caption)
	}

	doc := tgbotapi.NewDocument(res.ChatID, tgbotapi.FilePath(res.LocalPath))
	doc.Caption = caption
	if _, err := n.bot.Send(doc); err != nil {
		n.log.Warn().Int64("chat_id", res.ChatID).Err(err).
			Msg("document send failed, falling back to photo")
		return n.sendPhoto(res, caption)
	}
	return nil
}

func (n *TelegramNotifier) sendPhoto(res adapter.ResultNotification, caption string) error {
	var photo tgbotapi.PhotoConfig
	if res.LocalPath != "" {
		photo = tgbotapi.NewPhoto(res.ChatID, tgbotapi.FilePath(res.LocalPath))
	} else {
		photo = tgbotapi.NewPhoto(res.ChatID, tgbotapi.FileURL(res.RemoteURL))
	}
	photo.Caption = caption
	if _, err := n.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram photo send: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) NotifyFailure(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram message send: %w", err)
	}
	return nil
}
