package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bartab/internal/economy"
	"bartab/internal/metrics"
)

const forceNewsCommand = "force_news"

// Ledger settles a trade against a user's bank and portfolio in one write.
type Ledger interface {
	SettleTrade(ctx context.Context, userID, bankDelta int64, apply func(*economy.Portfolio) error) (economy.BalanceResult, error)
}

type TradeRequest struct {
	UserID int64   `json:"user_id"`
	Asset  string  `json:"asset"`
	Symbol string  `json:"symbol,omitempty"`
	Side   string  `json:"side"`
	Amount float64 `json:"amount"`
}

type TradeResult struct {
	ID        uuid.UUID         `json:"id"`
	Asset     string            `json:"asset"`
	Symbol    string            `json:"symbol,omitempty"`
	Side      string            `json:"side"`
	Amount    float64           `json:"amount"`
	Price     float64           `json:"price"`
	Cost      string            `json:"cost"`
	Fee       string            `json:"fee"`
	Total     int64             `json:"total"`
	Portfolio economy.Portfolio `json:"portfolio"`
	Bank      int64             `json:"bank"`
	At        time.Time         `json:"at"`
}

// Trader executes market orders: it validates, applies the limiter, prices
// the order with fees and settles it through the ledger.
type Trader struct {
	engine  *Engine
	limiter *Limiter
	ledger  Ledger
	log     *slog.Logger
}

func NewTrader(engine *Engine, limiter *Limiter, ledger Ledger, logger *slog.Logger) *Trader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trader{engine: engine, limiter: limiter, ledger: ledger, log: logger}
}

func (t *Trader) Trade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	req.Asset = strings.ToLower(strings.TrimSpace(req.Asset))
	req.Side = strings.ToLower(strings.TrimSpace(req.Side))
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	out, err := t.trade(ctx, req)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		t.log.Warn("trade rejected", "user_id", req.UserID, "asset", req.Asset, "symbol", req.Symbol, "side", req.Side, "amount", req.Amount, "err", err)
		return TradeResult{}, err
	}
	metrics.TradesTotal.WithLabelValues(req.Asset, req.Side).Inc()
	t.log.Info("trade settled", "trade_id", out.ID, "user_id", req.UserID, "asset", req.Asset, "symbol", req.Symbol, "side", req.Side, "amount", req.Amount, "total", out.Total)
	return out, nil
}

func (t *Trader) trade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	if err := validateOrder(req); err != nil {
		return TradeResult{}, err
	}
	if !t.engine.IsOpen() {
		return TradeResult{}, ErrMarketClosed
	}
	price, err := t.engine.Quote(req.Asset, req.Symbol)
	if err != nil {
		return TradeResult{}, err
	}
	if err := t.limiter.CheckTrade(req.UserID, req.Asset, req.Amount); err != nil {
		return TradeResult{}, err
	}

	feeRate := StockFee
	if req.Asset == AssetGold {
		feeRate = GoldFee
	}
	cost := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(req.Amount))
	fee := cost.Mul(decimal.NewFromFloat(feeRate))

	var bankDelta, total int64
	if req.Side == SideBuy {
		total = cost.Add(fee).Ceil().IntPart()
		bankDelta = -total
	} else {
		total = cost.Sub(fee).Floor().IntPart()
		bankDelta = total
	}

	quotes := t.engine.Status()
	res, err := t.ledger.SettleTrade(ctx, req.UserID, bankDelta, func(p *economy.Portfolio) error {
		if err := applyOrder(p, req, price, total); err != nil {
			return err
		}
		p.TotalValue = valuation(*p, quotes)
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	t.engine.RecordTrade(req.Asset, req.Symbol, req.Amount, req.Side)

	return TradeResult{
		ID:        uuid.New(),
		Asset:     req.Asset,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Amount:    req.Amount,
		Price:     price,
		Cost:      cost.StringFixed(2),
		Fee:       fee.StringFixed(2),
		Total:     total,
		Portfolio: res.Account.Portfolio,
		Bank:      res.Account.Bank,
		At:        time.Now().UTC(),
	}, nil
}

// ForceNews regenerates the news set, at most once per news cooldown.
func (t *Trader) ForceNews(ctx context.Context) ([]NewsEvent, error) {
	if remaining := t.limiter.NewsCooldown(forceNewsCommand); remaining > 0 {
		return nil, fmt.Errorf("%w: available again in %s", ErrNewsCooldown, remaining.Round(time.Minute))
	}
	news := t.engine.GenerateNews()
	t.limiter.SetNewsCooldown(forceNewsCommand)
	t.engine.announce(ctx, AnnounceNews)
	t.log.Info("market news regenerated", "events", len(news))
	return news, nil
}

func validateOrder(req TradeRequest) error {
	if req.Side != SideBuy && req.Side != SideSell {
		return ErrInvalidSide
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return ErrInvalidAmount
	}
	switch req.Asset {
	case AssetStock:
		if req.Symbol == "" {
			return ErrUnknownSymbol
		}
		if req.Amount != math.Trunc(req.Amount) {
			return fmt.Errorf("%w: shares must be whole", ErrInvalidAmount)
		}
	case AssetGold:
		if req.Amount < MinGoldPurchase {
			return fmt.Errorf("%w: minimum is %.1f ounces", ErrBelowMinimum, MinGoldPurchase)
		}
	default:
		return ErrInvalidAsset
	}
	return nil
}

// applyOrder moves the holding. Buys keep a share-weighted average price;
// sells book realized profit against it.
func applyOrder(p *economy.Portfolio, req TradeRequest, price float64, total int64) error {
	if req.Asset == AssetGold {
		if req.Side == SideBuy {
			p.GoldOunces += req.Amount
			p.TotalInvestment += total
			return nil
		}
		if p.GoldOunces+1e-9 < req.Amount {
			return fmt.Errorf("%w: have %.2f ounces", ErrInsufficientHoldings, p.GoldOunces)
		}
		p.GoldOunces = math.Max(p.GoldOunces-req.Amount, 0)
		if p.GoldOunces < 1e-9 {
			p.GoldOunces = 0
		}
		return nil
	}

	shares := int64(req.Amount)
	h := p.Stocks[req.Symbol]
	if req.Side == SideBuy {
		held := h.Shares + shares
		h.AvgPrice = (h.AvgPrice*float64(h.Shares) + price*float64(shares)) / float64(held)
		h.Shares = held
		p.Stocks[req.Symbol] = h
		p.TotalInvestment += total
		return nil
	}
	if h.Shares < shares {
		return fmt.Errorf("%w: have %d shares of %s", ErrInsufficientHoldings, h.Shares, req.Symbol)
	}
	basis := int64(math.Round(h.AvgPrice * float64(shares)))
	p.TotalPnL += total - basis
	p.TotalInvestment = max(p.TotalInvestment-basis, 0)
	h.Shares -= shares
	p.Stocks[req.Symbol] = h
	return nil
}

// valuation prices the portfolio at the given quotes, in whole coins.
func valuation(p economy.Portfolio, st Status) int64 {
	v := decimal.NewFromFloat(p.GoldOunces).Mul(decimal.NewFromFloat(st.GoldPrice))
	for _, s := range st.Stocks {
		if h, ok := p.Stocks[s.Symbol]; ok {
			v = v.Add(decimal.NewFromInt(h.Shares).Mul(decimal.NewFromFloat(s.Price)))
		}
	}
	return v.Round(0).IntPart()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMarketClosed):
		return "closed"
	case errors.Is(err, ErrDailyLimit), errors.Is(err, ErrOrderTooLarge), errors.Is(err, ErrTradingTooFast):
		return "limit"
	case errors.Is(err, economy.ErrInsufficientFunds), errors.Is(err, ErrInsufficientHoldings):
		return "funds"
	case errors.Is(err, economy.ErrPortfolioFull):
		return "portfolio"
	default:
		return "invalid"
	}
}
