package economy

import (
	"context"
	"fmt"
	"time"
)

// Tuning holds the reward knobs operators may override from the tuning file.
type Tuning struct {
	DailyCooldown    time.Duration
	DailyMin         int64
	DailyMax         int64
	DailyStreakBonus int64
	MaxDailyStreak   int
	StreakGrace      time.Duration

	WorkCooldown       time.Duration
	WorkCriticalChance float64

	BegCooldown    time.Duration
	BegMin         int64
	BegMax         int64
	BegSuccessRate float64
}

func DefaultTuning() Tuning {
	return Tuning{
		DailyCooldown:      24 * time.Hour,
		DailyMin:           1000,
		DailyMax:           2000,
		DailyStreakBonus:   100,
		MaxDailyStreak:     7,
		StreakGrace:        48 * time.Hour,
		WorkCooldown:       time.Hour,
		WorkCriticalChance: 0.1,
		BegCooldown:        5 * time.Minute,
		BegMin:             10,
		BegMax:             70,
		BegSuccessRate:     0.8,
	}
}

const (
	ActionDaily = "daily"
	ActionWork  = "work"
	ActionBeg   = "beg"
)

type Job struct {
	Title string `json:"title"`
	Min   int64  `json:"min"`
	Max   int64  `json:"max"`
}

// jobsByTier lists the jobs open to each networth tier.
var jobsByTier = map[string][]Job{
	"beginner": {
		{Title: "delivered packages", Min: 80, Max: 160},
		{Title: "worked at a café", Min: 60, Max: 120},
		{Title: "helped with chores", Min: 40, Max: 100},
	},
	"intermediate": {
		{Title: "drove for a ride share", Min: 100, Max: 200},
		{Title: "streamed online", Min: 150, Max: 300},
		{Title: "designed graphics", Min: 120, Max: 250},
	},
	"advanced": {
		{Title: "coded a website", Min: 200, Max: 400},
		{Title: "consulted for a business", Min: 160, Max: 350},
		{Title: "managed a project", Min: 220, Max: 450},
	},
	"expert": {
		{Title: "invested in stocks", Min: 300, Max: 600},
		{Title: "developed an app", Min: 400, Max: 800},
		{Title: "led a team", Min: 350, Max: 700},
	},
}

func NetworthTier(networth int64) string {
	switch {
	case networth >= 1_000_000:
		return "expert"
	case networth >= 100_000:
		return "advanced"
	case networth >= 10_000:
		return "intermediate"
	default:
		return "beginner"
	}
}

type DailyResult struct {
	BalanceResult
	Reward     int64   `json:"reward"`
	Streak     int     `json:"streak"`
	Multiplier float64 `json:"multiplier"`
}

type WorkResult struct {
	BalanceResult
	Job        string  `json:"job"`
	Earned     int64   `json:"earned"`
	Critical   bool    `json:"critical"`
	Multiplier float64 `json:"multiplier"`
}

type BegResult struct {
	BalanceResult
	Success bool  `json:"success"`
	Earned  int64 `json:"earned"`
}

type MoveResult struct {
	Moved   int64   `json:"moved"`
	Account Account `json:"account"`
}

type UpgradeResult struct {
	Kind     string  `json:"kind"`
	Cost     int64   `json:"cost"`
	OldLimit int64   `json:"old_limit"`
	NewLimit int64   `json:"new_limit"`
	Account  Account `json:"account"`
}

// Daily pays the daily reward. Claims less than StreakGrace apart extend the
// streak; anything older restarts it at 1.
func (s *Service) Daily(ctx context.Context, userID int64) (DailyResult, error) {
	var out DailyResult
	err := s.locked(ctx, userID, func() error {
		if err := s.claim(ctx, userID, ActionDaily, s.tuning.DailyCooldown); err != nil {
			return err
		}
		return s.mutate(ctx, userID, func(acct *Account) error {
			now := s.now()
			streak := 1
			if acct.LastDaily != nil && now.Sub(*acct.LastDaily) < s.tuning.StreakGrace {
				streak = acct.DailyStreak + 1
			}
			bonus := s.tuning.DailyStreakBonus * int64(min(streak, s.tuning.MaxDailyStreak))
			mult := acct.activeMultiplier(EffectDailyBonus, now)
			reward := int64(float64(s.randRange(s.tuning.DailyMin, s.tuning.DailyMax)+bonus) * mult)

			acct.DailyStreak = streak
			acct.LastDaily = &now
			res, err := s.applyLocked(ctx, acct, reward, 0, ActionDaily)
			if err != nil {
				return err
			}
			out = DailyResult{BalanceResult: res, Reward: reward, Streak: streak, Multiplier: mult}
			return nil
		})
	})
	if err != nil {
		return DailyResult{}, err
	}
	return out, nil
}

func (s *Service) Work(ctx context.Context, userID int64) (WorkResult, error) {
	var out WorkResult
	err := s.locked(ctx, userID, func() error {
		if err := s.claim(ctx, userID, ActionWork, s.tuning.WorkCooldown); err != nil {
			return err
		}
		return s.mutate(ctx, userID, func(acct *Account) error {
			jobs := jobsByTier[NetworthTier(acct.Networth)]
			job := jobs[s.randRange(0, int64(len(jobs)-1))]
			mult := acct.activeMultiplier(EffectWorkBonus, s.now())
			earned := int64(float64(s.randRange(job.Min, job.Max)) * mult)
			critical := s.nextFloat() < s.tuning.WorkCriticalChance
			if critical {
				earned *= 2
			}
			res, err := s.applyLocked(ctx, acct, earned, 0, ActionWork)
			if err != nil {
				return err
			}
			out = WorkResult{BalanceResult: res, Job: job.Title, Earned: earned, Critical: critical, Multiplier: mult}
			return nil
		})
	})
	if err != nil {
		return WorkResult{}, err
	}
	return out, nil
}

// Beg stamps the cooldown whether or not anyone gives.
func (s *Service) Beg(ctx context.Context, userID int64) (BegResult, error) {
	var out BegResult
	err := s.locked(ctx, userID, func() error {
		if err := s.claim(ctx, userID, ActionBeg, s.tuning.BegCooldown); err != nil {
			return err
		}
		given := s.nextFloat() < s.tuning.BegSuccessRate
		return s.mutate(ctx, userID, func(acct *Account) error {
			if !given {
				out = BegResult{BalanceResult: BalanceResult{Account: acct.Clone()}}
				return nil
			}
			earned := s.randRange(s.tuning.BegMin, s.tuning.BegMax)
			res, err := s.applyLocked(ctx, acct, earned, 0, ActionBeg)
			if err != nil {
				return err
			}
			out = BegResult{BalanceResult: res, Success: true, Earned: earned}
			return nil
		})
	})
	if err != nil {
		return BegResult{}, err
	}
	return out, nil
}

// Deposit moves coins from wallet to bank, limited by bank headroom.
func (s *Service) Deposit(ctx context.Context, userID, amount int64) (MoveResult, error) {
	return s.move(ctx, userID, amount, true)
}

// Withdraw moves coins from bank to wallet, limited by wallet headroom.
func (s *Service) Withdraw(ctx context.Context, userID, amount int64) (MoveResult, error) {
	return s.move(ctx, userID, amount, false)
}

func (s *Service) move(ctx context.Context, userID, amount int64, toBank bool) (MoveResult, error) {
	if amount <= 0 {
		return MoveResult{}, ErrInvalidAmount
	}
	var out MoveResult
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		source, headroom := acct.Wallet, acct.BankLimit-acct.Bank
		reason := "deposit"
		if !toBank {
			source, headroom = acct.Bank, acct.WalletLimit-acct.Wallet
			reason = "withdraw"
		}
		if source < amount {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, source, amount)
		}
		if headroom <= 0 {
			return fmt.Errorf("%w: no room left for a %s", ErrLimitReached, reason)
		}
		moved := min(amount, headroom)
		wd, bd := -moved, moved
		if !toBank {
			wd, bd = moved, -moved
		}
		res, err := s.applyLocked(ctx, acct, wd, bd, reason)
		if err != nil {
			return err
		}
		out = MoveResult{Moved: moved, Account: res.Account}
		return nil
	})
	return out, err
}

// UpgradeCost prices the next limit upgrade. Cost scales with how far the
// limit already is above its default.
func UpgradeCost(kind string, limit int64) (int64, error) {
	switch kind {
	case "wallet":
		return int64(1000 * (float64(limit) / float64(DefaultWalletLimit)) * 1.5), nil
	case "bank":
		return int64(2000 * (float64(limit) / float64(DefaultBankLimit)) * 1.5), nil
	default:
		return 0, ErrInvalidUpgrade
	}
}

// UpgradeLimit buys the next wallet or bank limit step with bank funds.
func (s *Service) UpgradeLimit(ctx context.Context, userID int64, kind string) (UpgradeResult, error) {
	if kind != "wallet" && kind != "bank" {
		return UpgradeResult{}, ErrInvalidUpgrade
	}
	var out UpgradeResult
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		limit, step, ceiling := acct.WalletLimit, int64(10_000), MaxWalletLimit
		if kind == "bank" {
			limit, step, ceiling = acct.BankLimit, 100_000, MaxBankLimit
		}
		if limit >= ceiling {
			return fmt.Errorf("%w: %s limit is already %d", ErrLimitReached, kind, ceiling)
		}
		cost, _ := UpgradeCost(kind, limit)
		if acct.Bank < cost {
			return fmt.Errorf("%w: upgrade costs %d, bank has %d", ErrInsufficientFunds, cost, acct.Bank)
		}
		next := min(limit+step, ceiling)
		if kind == "wallet" {
			acct.WalletLimit = next
		} else {
			acct.BankLimit = next
		}
		res, err := s.applyLocked(ctx, acct, 0, -cost, "upgrade_"+kind)
		if err != nil {
			return err
		}
		out = UpgradeResult{Kind: kind, Cost: cost, OldLimit: limit, NewLimit: next, Account: res.Account}
		return nil
	})
	return out, err
}

// claim checks the cooldown and stamps it before any payout. The caller holds
// the user's lock, so a concurrent claim waits and then sees the new stamp. A
// payout that fails after the stamp costs the user this window.
func (s *Service) claim(ctx context.Context, userID int64, action string, window time.Duration) error {
	if err := s.ready(ctx, userID, action, window); err != nil {
		return err
	}
	return s.SetCooldown(ctx, userID, action)
}

func (s *Service) ready(ctx context.Context, userID int64, action string, window time.Duration) error {
	remaining, err := s.CheckCooldown(ctx, userID, action, window)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return &CooldownError{Action: action, Remaining: remaining}
	}
	return nil
}
