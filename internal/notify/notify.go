// Package notify delivers market announcements to Discord and operator
// alerts to Telegram. Both fall back to the structured log when their
// credentials are missing or the client cannot be built.
package notify

import (
	"log/slog"

	"bartab/internal/market"
)

func NewAnnouncer(token, channelID string, logger *slog.Logger) market.Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	if token == "" || channelID == "" {
		logger.Info("discord announcements disabled; logging instead")
		return market.LogAnnouncer{Log: logger}
	}
	d, err := NewDiscord(token, channelID, logger)
	if err != nil {
		logger.Error("discord announcer unavailable; logging instead", "err", err)
		return market.LogAnnouncer{Log: logger}
	}
	return d
}

func NewAlerter(token, chatID, source string, logger *slog.Logger) Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if token == "" || chatID == "" {
		return LogAlerter{Log: logger}
	}
	t, err := NewTelegram(token, chatID, source, 3, 0)
	if err != nil {
		logger.Error("telegram alerts unavailable; logging instead", "err", err)
		return LogAlerter{Log: logger}
	}
	return t
}
