package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"taskd/internal/config"
)

// Telegram sends outcome summaries to a chat. Send-only: no poller is
// started, the bot client is used purely as an API handle.
type Telegram struct {
	bot    *tele.Bot
	chatID int64
}

// NewTelegram returns (nil, nil) when the transport is not configured.
func NewTelegram(cfg *config.TelegramConfig) (*Telegram, error) {
	if cfg == nil || strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true, // no getMe on startup; sends still go to the live API
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, subject, body string) error {
	text := subject + "\n\n" + body
	// Telegram caps messages at 4096 chars.
	if len(text) > 4000 {
		text = text[:4000] + "..."
	}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(t.chatID), text)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("telegram send timed out")
	}
}
