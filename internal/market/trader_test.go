package market

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"bartab/internal/economy"
	"bartab/internal/store"
)

func newTestTrader(t *testing.T, at time.Time) (*Trader, *Engine, *economy.Service) {
	t.Helper()
	now := func() time.Time { return at }
	svc := economy.NewService(store.NewMemoryStore(), nil,
		economy.WithClock(now),
		economy.WithRand(rand.New(rand.NewSource(1))),
	)
	e := NewEngine(nil, WithClock(now), WithRand(rand.New(rand.NewSource(3))))
	e.SyncHours(context.Background())
	return NewTrader(e, NewLimiter(DefaultTuning(), now), svc, nil), e, svc
}

func fundBank(t *testing.T, svc *economy.Service, id, bank int64) {
	t.Helper()
	if _, err := svc.UpdateUser(context.Background(), id, func(a *economy.Account) error {
		a.Bank = bank
		return nil
	}); err != nil {
		t.Fatalf("fund bank: %v", err)
	}
}

func TestTradeStockBuyThenSell(t *testing.T) {
	tr, e, svc := newTestTrader(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	fundBank(t, svc, 1, 100_000)

	buy, err := tr.Trade(ctx, TradeRequest{UserID: 1, Asset: "stock", Symbol: "tech", Side: "BUY", Amount: 10})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// 10 * 150 plus 0.5% fee, rounded up.
	if buy.Total != 1508 || buy.Bank != 100_000-1508 {
		t.Fatalf("buy total=%d bank=%d", buy.Total, buy.Bank)
	}
	h := buy.Portfolio.Stocks["TECH"]
	if h.Shares != 10 || h.AvgPrice != 150 {
		t.Fatalf("holding after buy: %+v", h)
	}
	if buy.Portfolio.TotalValue != 1500 {
		t.Fatalf("total value %d, want 1500", buy.Portfolio.TotalValue)
	}

	sell, err := tr.Trade(ctx, TradeRequest{UserID: 1, Asset: AssetStock, Symbol: "TECH", Side: SideSell, Amount: 4})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	// 4 * 150 minus 0.5% fee, rounded down.
	if sell.Total != 597 || sell.Bank != 100_000-1508+597 {
		t.Fatalf("sell total=%d bank=%d", sell.Total, sell.Bank)
	}
	if got := sell.Portfolio.Stocks["TECH"].Shares; got != 6 {
		t.Fatalf("shares after sell = %d", got)
	}
	if sell.Portfolio.TotalPnL != -3 {
		t.Fatalf("pnl = %d, want -3", sell.Portfolio.TotalPnL)
	}

	for _, s := range e.Status().Stocks {
		if s.Symbol == "TECH" && s.Volume != 6 {
			t.Fatalf("TECH volume %d, want 6 after +10/-4", s.Volume)
		}
	}
}

func TestTradeGold(t *testing.T) {
	tr, e, svc := newTestTrader(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	fundBank(t, svc, 2, 10_000)

	res, err := tr.Trade(ctx, TradeRequest{UserID: 2, Asset: AssetGold, Side: SideBuy, Amount: 0.5})
	if err != nil {
		t.Fatalf("buy gold: %v", err)
	}
	if res.Total != 935 {
		t.Fatalf("gold total = %d, want 935", res.Total)
	}
	if math.Abs(res.Portfolio.GoldOunces-0.5) > 1e-9 {
		t.Fatalf("ounces = %v", res.Portfolio.GoldOunces)
	}
	if e.Status().GoldDemand <= 0 {
		t.Fatalf("buying gold should raise demand")
	}

	if _, err := tr.Trade(ctx, TradeRequest{UserID: 2, Asset: AssetGold, Side: SideBuy, Amount: 0.05}); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := tr.Trade(ctx, TradeRequest{UserID: 2, Asset: AssetGold, Side: SideSell, Amount: 1}); !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
}

func TestTradeRejections(t *testing.T) {
	tr, _, svc := newTestTrader(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	fundBank(t, svc, 3, 100)

	cases := []struct {
		name string
		req  TradeRequest
		want error
	}{
		{"bad side", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "TECH", Side: "hold", Amount: 1}, ErrInvalidSide},
		{"bad asset", TradeRequest{UserID: 3, Asset: "bonds", Side: SideBuy, Amount: 1}, ErrInvalidAsset},
		{"zero", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "TECH", Side: SideBuy, Amount: 0}, ErrInvalidAmount},
		{"fractional shares", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "TECH", Side: SideBuy, Amount: 1.5}, ErrInvalidAmount},
		{"unknown symbol", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "NOPE", Side: SideBuy, Amount: 1}, ErrUnknownSymbol},
		{"broke", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "TECH", Side: SideBuy, Amount: 1}, economy.ErrInsufficientFunds},
		{"no shares", TradeRequest{UserID: 3, Asset: AssetStock, Symbol: "BANK", Side: SideSell, Amount: 1}, ErrInsufficientHoldings},
	}
	for _, tc := range cases {
		if _, err := tr.Trade(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}

	acct, err := svc.GetAccount(ctx, 3)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Bank != 100 || len(acct.Portfolio.Stocks) != 0 {
		t.Fatalf("rejected trades changed the account: bank=%d stocks=%v", acct.Bank, acct.Portfolio.Stocks)
	}
}

func TestTradeWhenClosed(t *testing.T) {
	tr, _, svc := newTestTrader(t, time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC))
	fundBank(t, svc, 4, 10_000)
	_, err := tr.Trade(context.Background(), TradeRequest{UserID: 4, Asset: AssetStock, Symbol: "TECH", Side: SideBuy, Amount: 1})
	if !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestForceNewsCooldown(t *testing.T) {
	tr, _, _ := newTestTrader(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	news, err := tr.ForceNews(context.Background())
	if err != nil {
		t.Fatalf("force news: %v", err)
	}
	if len(news) < 3 {
		t.Fatalf("got %d events", len(news))
	}
	if _, err := tr.ForceNews(context.Background()); !errors.Is(err, ErrNewsCooldown) {
		t.Fatalf("expected ErrNewsCooldown, got %v", err)
	}
}
