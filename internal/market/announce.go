package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

type AnnouncementKind string

const (
	AnnounceOpen   AnnouncementKind = "open"
	AnnounceClose  AnnouncementKind = "close"
	AnnounceUpdate AnnouncementKind = "update"
	AnnounceNews   AnnouncementKind = "news"
)

// Updates are only worth posting past these thresholds.
const (
	significantChangePct = 1.5
	importantImpact      = 0.15
)

type Announcement struct {
	Kind     AnnouncementKind `json:"kind"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Status   Status           `json:"status"`
	Movers   []Mover          `json:"movers"`
	Headline *NewsEvent       `json:"headline,omitempty"`
}

// Announcer publishes market announcements to a chat channel.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// LogAnnouncer writes announcements to the log. It is the default when no
// chat channel is configured.
type LogAnnouncer struct {
	Log *slog.Logger
}

func (l LogAnnouncer) Announce(_ context.Context, a Announcement) error {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("market announcement",
		"kind", string(a.Kind),
		"title", a.Title,
		"message", a.Message,
		"sentiment", a.Status.Sentiment,
		"trend", a.Status.Trend,
	)
	return nil
}

func (e *Engine) announce(ctx context.Context, kind AnnouncementKind) {
	e.mu.RLock()
	a, ok := buildAnnouncement(kind, e.statusLocked(), e.topMoversLocked(3))
	e.mu.RUnlock()
	if !ok {
		return
	}
	if err := e.announcer.Announce(ctx, a); err != nil {
		e.log.Error("market announcement failed", "kind", string(kind), "err", err)
	}
}

// buildAnnouncement renders an announcement. Periodic updates are dropped
// unless the market moved or the news is big enough.
func buildAnnouncement(kind AnnouncementKind, st Status, movers []Mover) (Announcement, bool) {
	a := Announcement{Kind: kind, Status: st, Movers: movers}
	switch kind {
	case AnnounceOpen:
		a.Title = "Market Open"
		a.Message = "Trading is now active for the day!"
	case AnnounceClose:
		a.Title = "Market Closed"
		a.Message = "Trading has ended for the day."
	case AnnounceNews:
		a.Title = "News Regenerated"
		a.Message = "Market news has been refreshed."
		a.Headline = headline(st.News)
	case AnnounceUpdate:
		if !significant(st) {
			return Announcement{}, false
		}
		a.Title = "Market Update"
		a.Message = fmt.Sprintf("Overall change %+.2f%%, gold $%.2f/oz", st.MarketChange, st.GoldPrice)
		a.Headline = headline(st.News)
	default:
		return Announcement{}, false
	}
	return a, true
}

func significant(st Status) bool {
	if math.Abs(st.MarketChange) > significantChangePct {
		return true
	}
	for _, ev := range st.News {
		if math.Abs(ev.Impact) > importantImpact {
			return true
		}
	}
	return false
}

func headline(news []NewsEvent) *NewsEvent {
	if len(news) == 0 {
		return nil
	}
	best := news[0]
	for _, ev := range news[1:] {
		if math.Abs(ev.Impact) > math.Abs(best.Impact) {
			best = ev
		}
	}
	return &best
}

// FormatMovers renders movers one per line, e.g. "TECH: +1.2%".
func FormatMovers(movers []Mover) string {
	lines := make([]string, 0, len(movers))
	for _, m := range movers {
		lines = append(lines, fmt.Sprintf("%s: %+.1f%%", m.Symbol, m.Change))
	}
	return strings.Join(lines, "\n")
}

func TrendEmoji(trend string) string {
	switch trend {
	case TrendBull:
		return "📈"
	case TrendBear:
		return "📉"
	default:
		return "➡️"
	}
}
