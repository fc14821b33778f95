package market

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, at time.Time) *Engine {
	t.Helper()
	return NewEngine(nil,
		WithClock(func() time.Time { return at }),
		WithRand(rand.New(rand.NewSource(7))),
	)
}

func TestSyncHoursOpensDuringTradingHours(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if e.IsOpen() {
		t.Fatalf("engine should start closed")
	}
	e.SyncHours(context.Background())
	if !e.IsOpen() {
		t.Fatalf("expected market open at 10:00 UTC")
	}

	night := newTestEngine(t, time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	night.SyncHours(context.Background())
	if night.IsOpen() {
		t.Fatalf("expected market closed at 20:00 UTC")
	}
	if night.Tick() {
		t.Fatalf("closed market must not tick")
	}
}

func TestTickKeepsPricesInBounds(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	e.SyncHours(context.Background())

	for i := 0; i < 2000; i++ {
		if !e.Tick() {
			t.Fatalf("tick %d refused while open", i)
		}
		if i%100 == 0 {
			e.GenerateNews()
		}
	}

	st := e.Status()
	if st.GoldPrice < MinGoldPrice || st.GoldPrice > MaxGoldPrice {
		t.Fatalf("gold price %.2f outside [%v, %v]", st.GoldPrice, MinGoldPrice, MaxGoldPrice)
	}
	if st.Sentiment < -1 || st.Sentiment > 1 {
		t.Fatalf("sentiment %.3f outside [-1, 1]", st.Sentiment)
	}
	for _, s := range st.Stocks {
		lo, hi := s.BasePrice*StockMinRatio, s.BasePrice*StockMaxRatio
		if s.Price < lo || s.Price > hi {
			t.Fatalf("%s price %.2f outside [%.2f, %.2f]", s.Symbol, s.Price, lo, hi)
		}
		if s.DayLow > s.Price || s.DayHigh < s.Price {
			t.Fatalf("%s day range [%.2f, %.2f] does not contain %.2f", s.Symbol, s.DayLow, s.DayHigh, s.Price)
		}
	}
	if st.DailyVolume <= 0 {
		t.Fatalf("expected volume after ticks, got %d", st.DailyVolume)
	}
}

func TestGenerateNewsSetsTrend(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	for i := 0; i < 50; i++ {
		news := e.GenerateNews()
		if len(news) < 3 || len(news) > 5 {
			t.Fatalf("got %d events, want 3..5", len(news))
		}
		seen := map[string]bool{}
		total := 0.0
		for _, ev := range news {
			if seen[ev.Text] {
				t.Fatalf("duplicate event %q", ev.Text)
			}
			seen[ev.Text] = true
			total += ev.Impact
		}
		want := TrendStable
		if total > 0.1 {
			want = TrendBull
		} else if total < -0.1 {
			want = TrendBear
		}
		if got := e.Status().Trend; got != want {
			t.Fatalf("impact %.2f gave trend %q, want %q", total, got, want)
		}
	}
}

func TestTopMoversOrderedByAbsoluteChange(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	e.mu.Lock()
	e.stocks["TECH"].Price = 153    // +2%
	e.stocks["BANK"].Price = 40.5   // -10%
	e.stocks["ENERGY"].Price = 85.0 // flat
	e.mu.Unlock()

	movers := e.TopMovers(2)
	if len(movers) != 2 {
		t.Fatalf("got %d movers, want 2", len(movers))
	}
	if movers[0].Symbol != "BANK" || movers[1].Symbol != "TECH" {
		t.Fatalf("unexpected order: %+v", movers)
	}
	if math.Abs(movers[0].Change+10) > 1e-9 {
		t.Fatalf("BANK change %.4f, want -10", movers[0].Change)
	}
}

func TestRecordTradeMovesDemand(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	e.RecordTrade(AssetGold, "", 500, SideBuy)
	if got := e.Status().GoldDemand; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("demand %.3f after buying 500oz, want 0.5", got)
	}
	e.RecordTrade(AssetGold, "", 5000, SideBuy)
	if got := e.Status().GoldDemand; got != 1 {
		t.Fatalf("demand %.3f, want clamp at 1", got)
	}

	e.RecordTrade(AssetStock, "AUTO", 10, SideSell)
	for _, s := range e.Status().Stocks {
		if s.Symbol == "AUTO" && s.Volume != 0 {
			t.Fatalf("volume %d, want floor at 0", s.Volume)
		}
	}
}

func TestQuote(t *testing.T) {
	e := newTestEngine(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if p, err := e.Quote(AssetStock, "TECH"); err != nil || p != 150 {
		t.Fatalf("TECH quote = %v, %v", p, err)
	}
	if p, err := e.Quote(AssetGold, ""); err != nil || p != StartGoldPrice {
		t.Fatalf("gold quote = %v, %v", p, err)
	}
	if _, err := e.Quote(AssetStock, "NOPE"); err != ErrUnknownSymbol {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := e.Quote("bonds", ""); err != ErrInvalidAsset {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestUpdateAnnouncementsNeedSignificance(t *testing.T) {
	quiet := Status{MarketChange: 0.4, News: []NewsEvent{{Kind: NewsPositive, Impact: 0.08}}}
	if _, ok := buildAnnouncement(AnnounceUpdate, quiet, nil); ok {
		t.Fatalf("quiet market should not announce an update")
	}

	moved := Status{MarketChange: -2.1}
	a, ok := buildAnnouncement(AnnounceUpdate, moved, nil)
	if !ok || a.Title != "Market Update" {
		t.Fatalf("expected update for a -2.1%% move, got %+v ok=%v", a, ok)
	}

	big := Status{News: []NewsEvent{
		{Kind: NewsPositive, Impact: 0.05, Text: "small"},
		{Kind: NewsNegative, Impact: -0.2, Text: "big"},
	}}
	a, ok = buildAnnouncement(AnnounceUpdate, big, nil)
	if !ok || a.Headline == nil || a.Headline.Text != "big" {
		t.Fatalf("expected headline 'big', got %+v ok=%v", a.Headline, ok)
	}

	if _, ok := buildAnnouncement(AnnounceOpen, Status{}, nil); !ok {
		t.Fatalf("open is always announced")
	}
}

func TestFormatMovers(t *testing.T) {
	got := FormatMovers([]Mover{{Symbol: "TECH", Change: 1.23}, {Symbol: "BANK", Change: -0.5}})
	if got != "TECH: +1.2%\nBANK: -0.5%" {
		t.Fatalf("got %q", got)
	}
}
