package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"bartab/internal/market"
)

const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
	colorBlue  = 0x3498db
	colorGold  = 0xf1c40f
)

// Discord posts market announcements as embeds to one channel over the REST
// API. It never opens a gateway connection.
type Discord struct {
	session   *discordgo.Session
	channelID string
	log       *slog.Logger
}

func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, errors.New("discord token and channel id are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: s, channelID: channelID, log: logger}, nil
}

func (d *Discord) Announce(ctx context.Context, a market.Announcement) error {
	embed := announcementEmbed(a)
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send %s announcement: %w", a.Kind, err)
	}
	d.log.Info("market announcement sent", "kind", string(a.Kind), "channel_id", d.channelID)
	return nil
}

func announcementEmbed(a market.Announcement) *discordgo.MessageEmbed {
	st := a.Status
	embed := &discordgo.MessageEmbed{
		Title:       announcementTitle(a),
		Description: a.Message,
		Color:       announcementColor(a),
		Timestamp:   st.LastUpdate.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Trading hours 09:00-17:00 UTC"},
	}

	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{Name: "Sentiment", Value: fmt.Sprintf("%+.2f", st.Sentiment), Inline: true},
		&discordgo.MessageEmbedField{Name: "Trend", Value: market.TrendEmoji(st.Trend) + " " + st.Trend, Inline: true},
		&discordgo.MessageEmbedField{Name: "Gold", Value: fmt.Sprintf("$%.2f/oz", st.GoldPrice), Inline: true},
	)
	if len(a.Movers) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Top Movers",
			Value: market.FormatMovers(a.Movers),
		})
	}
	if a.Headline != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Headline",
			Value: a.Headline.Text,
		})
	}
	return embed
}

func announcementTitle(a market.Announcement) string {
	switch a.Kind {
	case market.AnnounceOpen:
		return "🔔 " + a.Title
	case market.AnnounceClose:
		return "🔕 " + a.Title
	case market.AnnounceNews:
		return "📰 " + a.Title
	default:
		return market.TrendEmoji(a.Status.Trend) + " " + a.Title
	}
}

func announcementColor(a market.Announcement) int {
	switch a.Kind {
	case market.AnnounceOpen:
		return colorGreen
	case market.AnnounceClose:
		return colorRed
	case market.AnnounceNews:
		return colorGold
	}
	if a.Status.MarketChange < 0 {
		return colorRed
	}
	if a.Status.MarketChange > 0 {
		return colorGreen
	}
	return colorBlue
}
