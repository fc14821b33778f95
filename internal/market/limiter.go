package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type tradeKey struct {
	userID int64
	asset  string
}

type tradeCounter struct {
	count     int
	volume    float64
	lastReset time.Time
}

// Limiter guards the market against abuse: a daily trade count per user and
// asset class, a maximum order size, a burst cap over a short window, and a
// cooldown on forced news.
type Limiter struct {
	mu     sync.Mutex
	tuning Tuning
	now    func() time.Time
	trades map[tradeKey]*tradeCounter
	rapid  map[int64][]time.Time
	news   map[string]time.Time // command -> available again at
}

func NewLimiter(tuning Tuning, now func() time.Time) *Limiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Limiter{
		tuning: tuning,
		now:    now,
		trades: make(map[tradeKey]*tradeCounter),
		rapid:  make(map[int64][]time.Time),
		news:   make(map[string]time.Time),
	}
}

// CheckTrade admits a trade and records it, or returns why it is refused.
func (l *Limiter) CheckTrade(userID int64, asset string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	key := tradeKey{userID, asset}
	c, ok := l.trades[key]
	if !ok || now.Sub(c.lastReset) > 24*time.Hour {
		c = &tradeCounter{lastReset: now}
		l.trades[key] = c
	}
	if c.count >= l.tuning.DailyTradeLimit {
		return fmt.Errorf("%w (%d trades)", ErrDailyLimit, l.tuning.DailyTradeLimit)
	}

	switch {
	case asset == AssetStock && amount > MaxStockOrder:
		return fmt.Errorf("%w: at most %d shares per order", ErrOrderTooLarge, MaxStockOrder)
	case asset == AssetGold && amount > MaxGoldOrder:
		return fmt.Errorf("%w: at most %d ounces per order", ErrOrderTooLarge, MaxGoldOrder)
	}

	recent := l.rapid[userID][:0]
	for _, t := range l.rapid[userID] {
		if now.Sub(t) < l.tuning.RapidWindow {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.tuning.RapidLimit {
		l.rapid[userID] = recent
		return ErrTradingTooFast
	}
	l.rapid[userID] = append(recent, now)
	c.count++
	c.volume += amount
	return nil
}

// NewsCooldown returns how long until command may run again, zero if ready.
func (l *Limiter) NewsCooldown(command string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.news[command]
	if !ok {
		return 0
	}
	return max(until.Sub(l.now()), 0)
}

func (l *Limiter) SetNewsCooldown(command string) {
	l.mu.Lock()
	l.news[command] = l.now().Add(l.tuning.NewsCooldown)
	l.mu.Unlock()
	l.Cleanup()
}

// Cleanup drops counters idle for two days, news cooldowns older than a day
// and burst stamps older than an hour.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	for k, until := range l.news {
		if now.Sub(until) >= 24*time.Hour {
			delete(l.news, k)
		}
	}
	for k, c := range l.trades {
		if now.Sub(c.lastReset) >= 48*time.Hour {
			delete(l.trades, k)
		}
	}
	for uid, stamps := range l.rapid {
		kept := stamps[:0]
		for _, t := range stamps {
			if now.Sub(t) < time.Hour {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.rapid, uid)
			continue
		}
		l.rapid[uid] = kept
	}
}

// Run calls Cleanup every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("limiter cleanup shutdown")
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
