// Package notify pushes new trading signals to the operator's Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gregtusar/botdash/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxReasoningLen = 280

// Notifier announces signal events.
type Notifier interface {
	NotifySignal(ctx context.Context, ev models.SignalEvent) error
}

// Noop drops every notification.
type Noop struct{}

func (Noop) NotifySignal(context.Context, models.SignalEvent) error { return nil }

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot            sender
	chatID         int64
	quote          string
	maxRetries     int
	retryDelayBase time.Duration
	logger         *logrus.Logger
}

func NewTelegram(botToken string, chatID int64, quote string, logger *logrus.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, quote, logger), nil
}

func newTelegram(bot sender, chatID int64, quote string, logger *logrus.Logger) *Telegram {
	return &Telegram{
		bot:            bot,
		chatID:         chatID,
		quote:          quote,
		maxRetries:     3,
		retryDelayBase: time.Second,
		logger:         logger,
	}
}

func (t *Telegram) NotifySignal(ctx context.Context, ev models.SignalEvent) error {
	return t.sendMarkdownV2(ctx, t.formatSignal(ev))
}

// sendMarkdownV2 sends with linear-backoff retry.
func (t *Telegram) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		t.logger.WithError(err).WithField("attempt", i+1).Debug("Telegram send failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

func (t *Telegram) formatSignal(ev models.SignalEvent) string {
	emoji := "⏸"
	switch ev.Action {
	case models.ActionBuy:
		emoji = "🟢"
	case models.ActionSell:
		emoji = "🔴"
	}

	base := models.BaseAsset(ev.Pair, t.quote)
	pair := base + "/" + strings.ToUpper(t.quote)

	var b strings.Builder
	fmt.Fprintf(&b, "%s *New %s signal* %s\n", emoji, escapeMarkdownV2(string(ev.Action)), escapeMarkdownV2(pair))
	fmt.Fprintf(&b, "Confidence: %s\n", escapeMarkdownV2(fmt.Sprintf("%.0f%%", ev.Confidence.Float64()*100)))
	if r := strings.TrimSpace(ev.Reasoning); r != "" {
		if len([]rune(r)) > maxReasoningLen {
			r = string([]rune(r)[:maxReasoningLen]) + "…"
		}
		fmt.Fprintf(&b, "\n_%s_\n", escapeMarkdownV2(r))
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "\nID: `%s`", escapeMarkdownV2(ev.ID))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
