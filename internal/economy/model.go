package economy

import (
	"errors"
	"fmt"
	"time"
)

const (
	CurrentSchemaVersion = 2

	StartingMoney      = int64(100)
	DefaultWalletLimit = int64(50_000)
	DefaultBankLimit   = int64(500_000)
	MaxWalletLimit     = int64(10_000_000)
	MaxBankLimit       = int64(100_000_000)

	MaxAdminGrant    = int64(1_000_000_000)
	// MaxBalanceDelta bounds a single wallet or bank delta so the overflow
	// arithmetic cannot wrap int64.
	MaxBalanceDelta = int64(1_000_000_000_000_000)
	MaxPortfolioSize = 50

	// CooldownTTL is how long the store keeps a cooldown stamp, regardless of
	// the window the caller checks it against.
	CooldownTTL = 24 * time.Hour
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrSelfTransfer       = errors.New("cannot transfer to the same account")
	ErrLockTimeout        = errors.New("timed out waiting for account lock")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrUnknownItem        = errors.New("unknown item")
	ErrLimitReached       = errors.New("limit reached")
	ErrInvalidUpgrade     = errors.New("upgrade kind must be wallet or bank")
	ErrPortfolioFull      = fmt.Errorf("cannot hold more than %d different stocks", MaxPortfolioSize)
	ErrInvalidPortfolio   = errors.New("invalid portfolio")
	ErrCooldown           = errors.New("on cooldown")
	ErrConflict           = errors.New("account was changed by another writer")
)

// CooldownError reports how long until an action is available again.
type CooldownError struct {
	Action    string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s available again in %s", e.Action, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

type Account struct {
	UserID        int64             `json:"user_id"`
	Wallet        int64             `json:"wallet"`
	WalletLimit   int64             `json:"wallet_limit"`
	Bank          int64             `json:"bank"`
	BankLimit     int64             `json:"bank_limit"`
	Networth      int64             `json:"networth"`
	DailyStreak   int               `json:"daily_streak"`
	LastDaily     *time.Time        `json:"last_daily"`
	TotalEarned   int64             `json:"total_earned"`
	Portfolio     Portfolio         `json:"portfolio"`
	Effects       map[string]Effect `json:"effects,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActive    time.Time         `json:"last_active"`
	SchemaVersion int               `json:"schema_version"`

	// Revision is the stored revision this copy was loaded at. Zero means the
	// account has not been saved yet.
	Revision int64 `json:"-"`
}

type Portfolio struct {
	GoldOunces      float64            `json:"gold_ounces"`
	Stocks          map[string]Holding `json:"stocks"`
	TotalInvestment int64              `json:"total_investment"`
	TotalValue      int64              `json:"total_value"`
	DailyPnL        int64              `json:"daily_pnl"`
	TotalPnL        int64              `json:"total_pnl"`
}

type Holding struct {
	Shares   int64   `json:"shares"`
	AvgPrice float64 `json:"avg_price"`
}

// Effect is a temporary multiplier granted by a consumable item.
type Effect struct {
	Multiplier    float64    `json:"multiplier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	UsesRemaining int        `json:"uses_remaining,omitempty"`
}

const (
	EffectDailyBonus    = "daily_bonus"
	EffectWorkBonus     = "work_bonus"
	EffectGamblingBonus = "gambling_bonus"
)

// Overflow is attached to a BalanceResult only when a limit changed the
// requested deltas.
type Overflow struct {
	Handled              bool  `json:"overflow_handled"`
	RequestedWalletDelta int64 `json:"requested_wallet_delta"`
	RequestedBankDelta   int64 `json:"requested_bank_delta"`
	ActualWalletDelta    int64 `json:"actual_wallet_delta"`
	ActualBankDelta      int64 `json:"actual_bank_delta"`
	Lost                 int64 `json:"lost"`
}

type BalanceResult struct {
	Account  Account   `json:"account"`
	Overflow *Overflow `json:"overflow,omitempty"`
}

type Stats struct {
	TotalUsers int64  `json:"total_users"`
	TotalMoney int64  `json:"total_money"`
	Backend    string `json:"backend"`
}

func DefaultAccount(userID int64, now time.Time) Account {
	return Account{
		UserID:        userID,
		Wallet:        StartingMoney,
		WalletLimit:   DefaultWalletLimit,
		Bank:          0,
		BankLimit:     DefaultBankLimit,
		Networth:      StartingMoney,
		Portfolio:     EmptyPortfolio(),
		CreatedAt:     now,
		LastActive:    now,
		SchemaVersion: CurrentSchemaVersion,
	}
}

func EmptyPortfolio() Portfolio {
	return Portfolio{Stocks: map[string]Holding{}}
}

// Clone returns a deep copy so callers never share maps with stored state.
func (a Account) Clone() Account {
	out := a
	out.Portfolio = a.Portfolio.Clone()
	if a.LastDaily != nil {
		t := *a.LastDaily
		out.LastDaily = &t
	}
	if a.Effects != nil {
		out.Effects = make(map[string]Effect, len(a.Effects))
		for k, v := range a.Effects {
			out.Effects[k] = v
		}
	}
	return out
}

func (p Portfolio) Clone() Portfolio {
	out := p
	out.Stocks = make(map[string]Holding, len(p.Stocks))
	for k, v := range p.Stocks {
		out.Stocks[k] = v
	}
	return out
}

// Validate rejects negative holdings and oversize portfolios. Empty stock
// positions are dropped.
func (p *Portfolio) Validate() error {
	if p.Stocks == nil {
		p.Stocks = map[string]Holding{}
	}
	if p.GoldOunces < 0 {
		return fmt.Errorf("%w: gold ounces must be >= 0", ErrInvalidPortfolio)
	}
	for symbol, h := range p.Stocks {
		if h.Shares < 0 {
			return fmt.Errorf("%w: negative shares for %s", ErrInvalidPortfolio, symbol)
		}
		if h.Shares == 0 {
			delete(p.Stocks, symbol)
		}
	}
	if len(p.Stocks) > MaxPortfolioSize {
		return ErrPortfolioFull
	}
	return nil
}

// activeMultiplier returns 1 when the effect is missing or expired.
func (a Account) activeMultiplier(name string, now time.Time) float64 {
	e, ok := a.Effects[name]
	if !ok || e.Multiplier <= 0 {
		return 1
	}
	if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return 1
	}
	return e.Multiplier
}
