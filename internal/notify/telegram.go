package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Alerter tells operators about failures that need a human, such as storage
// falling back to memory.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string) error
}

// LogAlerter is used when no alert channel is configured.
type LogAlerter struct {
	Log *slog.Logger
}

func (l LogAlerter) Alert(_ context.Context, subject, detail string) error {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("operator alert", "subject", subject, "detail", detail)
	return nil
}

// Telegram sends plain-text alerts to one chat, retrying with a linear
// backoff.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
	source     string
}

func NewTelegram(token, chatID, source string, maxRetries int, retryDelay time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Telegram{bot: bot, chatID: id, maxRetries: maxRetries, retryDelay: retryDelay, source: source}, nil
}

func (t *Telegram) Alert(ctx context.Context, subject, detail string) error {
	msg := tgbotapi.NewMessage(t.chatID, formatAlert(t.source, subject, detail, time.Now().UTC()))
	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == t.maxRetries-1 {
			break
		}
		if err := sleepWithContext(ctx, t.retryDelay*time.Duration(i+1)); err != nil {
			return err
		}
	}
	return fmt.Errorf("send telegram alert after %d attempts: %w", t.maxRetries, lastErr)
}

func formatAlert(source, subject, detail string, at time.Time) string {
	var b strings.Builder
	b.WriteString("🚨 ")
	if source != "" {
		b.WriteString("[" + source + "] ")
	}
	b.WriteString(subject)
	b.WriteString("\n")
	b.WriteString(at.Format("2006-01-02 15:04:05 UTC"))
	if detail != "" {
		b.WriteString("\n\n")
		b.WriteString(detail)
	}
	return b.String()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
