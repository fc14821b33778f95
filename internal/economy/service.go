package economy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"bartab/internal/metrics"
)

const (
	defaultLockTimeout = 10 * time.Second

	maxConflictAttempts = 5
	conflictRetryDelay  = 5 * time.Millisecond
)

// Service is the economy ledger. Every mutation of an account runs while the
// account's lock from the registry is held.
type Service struct {
	store       Store
	log         *slog.Logger
	locks       *LockRegistry
	lockTimeout time.Duration
	tuning      Tuning
	now         func() time.Time

	mu   sync.Mutex
	rand *mathrand.Rand
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.locks.now = now
	}
}

func WithRand(r *mathrand.Rand) Option {
	return func(s *Service) { s.rand = r }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) { s.lockTimeout = d }
}

func WithTuning(t Tuning) Option {
	return func(s *Service) { s.tuning = t }
}

func WithLockRegistry(r *LockRegistry) Option {
	return func(s *Service) { s.locks = r }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		log:         logger,
		locks:       NewLockRegistry(10 * time.Minute),
		lockTimeout: defaultLockTimeout,
		tuning:      DefaultTuning(),
		now:         func() time.Time { return time.Now().UTC() },
		rand:        mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locks exposes the registry so maintenance loops can sweep it.
func (s *Service) Locks() *LockRegistry {
	return s.locks
}

// GetAccount returns the account, creating it with defaults on first access
// and migrating stale documents.
func (s *Service) GetAccount(ctx context.Context, userID int64) (Account, error) {
	var out Account
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		out = acct.Clone()
		return nil
	})
	return out, err
}

// UpdateUser applies a partial update. Balances are re-clamped to their
// limits and networth is re-derived before the single write.
func (s *Service) UpdateUser(ctx context.Context, userID int64, patch func(*Account) error) (Account, error) {
	var out Account
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		rev := acct.Revision
		if err := patch(acct); err != nil {
			return err
		}
		acct.UserID = userID
		acct.Revision = rev
		clampBalances(acct)
		if err := acct.Portfolio.Validate(); err != nil {
			return err
		}
		if err := s.save(ctx, acct); err != nil {
			return err
		}
		out = acct.Clone()
		return nil
	})
	return out, err
}

// UpdateBalance is the mutation primitive: it applies signed deltas with
// overflow redirection and persists the result in one write. Callers own the
// policy checks (sufficient funds and so on).
func (s *Service) UpdateBalance(ctx context.Context, userID, walletDelta, bankDelta int64) (BalanceResult, error) {
	return s.updateBalance(ctx, userID, walletDelta, bankDelta, "update")
}

func (s *Service) updateBalance(ctx context.Context, userID, walletDelta, bankDelta int64, reason string) (BalanceResult, error) {
	var out BalanceResult
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		res, err := s.applyLocked(ctx, acct, walletDelta, bankDelta, reason)
		out = res
		return err
	})
	return out, err
}

// Transfer moves amount from one wallet to another. The sender is always
// debited the full amount; the receiver is credited only what fits under
// their wallet limit. It returns ok=false without error when the sender's
// wallet cannot cover amount.
func (s *Service) Transfer(ctx context.Context, fromID, toID, amount int64) (bool, int64, error) {
	if amount <= 0 {
		return false, 0, ErrInvalidAmount
	}
	if fromID == toID {
		return false, 0, ErrSelfTransfer
	}
	release, err := s.locks.AcquirePair(ctx, fromID, toID, s.lockTimeout)
	if err != nil {
		s.lockFailed(err, fromID)
		return false, 0, err
	}
	defer release()

	covered := false
	err = s.mutate(ctx, fromID, func(sender *Account) error {
		covered = sender.Wallet >= amount
		if !covered {
			return nil
		}
		_, err := s.applyLocked(ctx, sender, -amount, 0, "transfer_out")
		return err
	})
	if err != nil || !covered {
		return false, 0, err
	}

	var credit int64
	err = s.mutate(ctx, toID, func(receiver *Account) error {
		credit = min(amount, max(receiver.WalletLimit-receiver.Wallet, 0))
		_, err := s.applyLocked(ctx, receiver, credit, 0, "transfer_in")
		return err
	})
	if err != nil {
		return false, 0, fmt.Errorf("credit receiver %d after debiting %d: %w", toID, fromID, err)
	}
	if credit < amount {
		s.log.Info("partial transfer", "from", fromID, "to", toID, "requested", amount, "credited", credit)
	}
	return true, credit, nil
}

// CheckCooldown returns the time left before action is available again, or
// zero when it is ready.
func (s *Service) CheckCooldown(ctx context.Context, userID int64, action string, window time.Duration) (time.Duration, error) {
	now := s.now()
	stamp, err := s.store.CooldownStamp(ctx, userID, action, now)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cooldown %s for %d: %w", action, userID, err)
	}
	elapsed := now.Sub(stamp)
	if elapsed >= window {
		return 0, nil
	}
	return window - elapsed, nil
}

func (s *Service) SetCooldown(ctx context.Context, userID int64, action string) error {
	if err := s.store.StampCooldown(ctx, userID, action, s.now(), CooldownTTL); err != nil {
		return fmt.Errorf("set cooldown %s for %d: %w", action, userID, err)
	}
	return nil
}

func (s *Service) GetPortfolio(ctx context.Context, userID int64) (Portfolio, error) {
	acct, err := s.GetAccount(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}
	return acct.Portfolio, nil
}

// UpdatePortfolio replaces the stored portfolio after validating it.
func (s *Service) UpdatePortfolio(ctx context.Context, userID int64, p Portfolio) (Portfolio, error) {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return Portfolio{}, err
	}
	acct, err := s.UpdateUser(ctx, userID, func(a *Account) error {
		a.Portfolio = p
		return nil
	})
	if err != nil {
		return Portfolio{}, err
	}
	return acct.Portfolio, nil
}

// SettleTrade charges or credits the bank and mutates the portfolio as one
// write under the account lock. A negative bankDelta requires the bank to
// cover it.
func (s *Service) SettleTrade(ctx context.Context, userID, bankDelta int64, apply func(*Portfolio) error) (BalanceResult, error) {
	var out BalanceResult
	err := s.withAccount(ctx, userID, func(acct *Account) error {
		if bankDelta < 0 && acct.Bank < -bankDelta {
			return fmt.Errorf("%w: need %d in bank, have %d", ErrInsufficientFunds, -bankDelta, acct.Bank)
		}
		p := acct.Portfolio.Clone()
		if err := apply(&p); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		acct.Portfolio = p
		res, err := s.applyLocked(ctx, acct, 0, bankDelta, "trade")
		out = res
		return err
	})
	return out, err
}

// MigrateStale loads up to limit accounts stored below the current schema
// version, which rewrites them in the current shape.
func (s *Service) MigrateStale(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.StaleAccounts(ctx, CurrentSchemaVersion, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale accounts: %w", err)
	}
	migrated := 0
	for _, id := range ids {
		if _, err := s.GetAccount(ctx, id); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// PurgeCooldowns drops cooldown stamps that have expired.
func (s *Service) PurgeCooldowns(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeCooldowns(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge cooldowns: %w", err)
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) withAccount(ctx context.Context, userID int64, fn func(*Account) error) error {
	return s.locked(ctx, userID, func() error {
		return s.mutate(ctx, userID, fn)
	})
}

// locked runs fn while the user's lock is held.
func (s *Service) locked(ctx context.Context, userID int64, fn func() error) error {
	release, err := s.locks.Acquire(ctx, userID, s.lockTimeout)
	if err != nil {
		s.lockFailed(err, userID)
		return err
	}
	defer release()
	return fn()
}

// mutate loads the account and runs fn on it. When another process saved the
// account in between, the save fails with ErrConflict and fn runs again on a
// fresh copy, so fn must not have side effects before its save. The caller
// holds the user's lock.
func (s *Service) mutate(ctx context.Context, userID int64, fn func(*Account) error) error {
	delay := conflictRetryDelay
	for attempt := 1; ; attempt++ {
		acct, err := s.loadLocked(ctx, userID)
		if err == nil {
			err = fn(&acct)
		}
		if !errors.Is(err, ErrConflict) || attempt == maxConflictAttempts {
			return err
		}
		s.log.Info("account write conflict, retrying", "user_id", userID, "attempt", attempt)
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) lockFailed(err error, userID int64) {
	if errors.Is(err, ErrLockTimeout) {
		metrics.LockTimeouts.Inc()
		s.log.Warn("account lock timeout", "user_id", userID, "timeout", s.lockTimeout)
	}
}

// loadLocked must be called with the user's lock held.
func (s *Service) loadLocked(ctx context.Context, userID int64) (Account, error) {
	rec, err := s.store.LoadAccount(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		acct := DefaultAccount(userID, s.now())
		if err := s.save(ctx, &acct); err != nil {
			return Account{}, err
		}
		s.log.Info("account created", "user_id", userID)
		return acct, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("load account %d: %w", userID, err)
	}

	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(rec.Doc))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Account{}, fmt.Errorf("decode account %d: %w", userID, err)
	}
	migrated, err := MigrateDoc(doc)
	if err != nil {
		return Account{}, fmt.Errorf("account %d: %w", userID, err)
	}
	acct, err := decodeAccount(doc)
	if err != nil {
		return Account{}, fmt.Errorf("decode account %d: %w", userID, err)
	}
	acct.UserID = userID
	acct.Revision = rec.Revision
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = s.now()
	}
	if acct.Portfolio.Stocks == nil {
		acct.Portfolio.Stocks = map[string]Holding{}
	}
	if migrated {
		if err := s.save(ctx, &acct); err != nil {
			return Account{}, err
		}
		s.log.Info("account migrated", "user_id", userID, "from", rec.SchemaVersion, "to", CurrentSchemaVersion)
	}
	return acct, nil
}

func decodeAccount(doc map[string]any) (Account, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := json.Unmarshal(body, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// applyLocked runs the balance algorithm on acct, persists it and journals
// the mutation. The caller holds acct's lock.
func (s *Service) applyLocked(ctx context.Context, acct *Account, walletDelta, bankDelta int64, reason string) (BalanceResult, error) {
	if err := checkDeltas(walletDelta, bankDelta); err != nil {
		return BalanceResult{}, err
	}
	ov := applyDeltas(acct, walletDelta, bankDelta)
	if err := s.save(ctx, acct); err != nil {
		return BalanceResult{}, err
	}
	if ov.Lost > 0 {
		metrics.OverflowLost.Add(float64(ov.Lost))
		s.log.Warn("balance overflow dropped coins",
			"user_id", acct.UserID,
			"lost", ov.Lost,
			"wallet_limit", acct.WalletLimit,
			"bank_limit", acct.BankLimit,
		)
	} else if ov.Handled {
		s.log.Info("wallet overflow moved to bank", "user_id", acct.UserID, "moved", ov.ActualBankDelta-bankDelta)
	}
	s.journal(ctx, acct.UserID, reason, ov)

	res := BalanceResult{Account: acct.Clone()}
	if ov.Handled {
		res.Overflow = &ov
	}
	return res, nil
}

func (s *Service) journal(ctx context.Context, userID int64, reason string, ov Overflow) {
	if ov.ActualWalletDelta == 0 && ov.ActualBankDelta == 0 && ov.Lost == 0 {
		return
	}
	entry := JournalEntry{
		ID:                   uuid.New(),
		UserID:               userID,
		Reason:               reason,
		RequestedWalletDelta: ov.RequestedWalletDelta,
		RequestedBankDelta:   ov.RequestedBankDelta,
		ActualWalletDelta:    ov.ActualWalletDelta,
		ActualBankDelta:      ov.ActualBankDelta,
		Lost:                 ov.Lost,
		At:                   s.now(),
	}
	if err := s.store.AppendJournal(ctx, entry); err != nil {
		s.log.Warn("journal append failed", "user_id", userID, "reason", reason, "err", err)
	}
}

func (s *Service) save(ctx context.Context, acct *Account) error {
	acct.Networth = acct.Wallet + acct.Bank
	acct.LastActive = s.now()
	acct.SchemaVersion = CurrentSchemaVersion
	body, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %d: %w", acct.UserID, err)
	}
	rec := Record{
		UserID:        acct.UserID,
		SchemaVersion: acct.SchemaVersion,
		Networth:      acct.Networth,
		Doc:           body,
		UpdatedAt:     acct.LastActive,
		Revision:      acct.Revision,
	}
	if err := s.store.SaveAccount(ctx, rec); err != nil {
		return fmt.Errorf("save account %d: %w", acct.UserID, err)
	}
	acct.Revision++
	return nil
}

// checkDeltas rejects deltas large enough to wrap the balance arithmetic.
func checkDeltas(walletDelta, bankDelta int64) error {
	for _, d := range [2]int64{walletDelta, bankDelta} {
		if d > MaxBalanceDelta || d < -MaxBalanceDelta {
			return fmt.Errorf("%w: delta %d exceeds %d", ErrInvalidAmount, d, MaxBalanceDelta)
		}
	}
	return nil
}

// applyDeltas is the pure balance algorithm. Wallet overflow moves into the
// bank headroom left before this mutation; anything that still does not fit
// under the bank limit is dropped and reported as Lost.
func applyDeltas(a *Account, walletDelta, bankDelta int64) Overflow {
	ov := Overflow{RequestedWalletDelta: walletDelta, RequestedBankDelta: bankDelta}
	oldWallet, oldBank := a.Wallet, a.Bank
	newWallet := oldWallet + walletDelta
	newBank := oldBank + bankDelta

	if newWallet > a.WalletLimit {
		overflow := newWallet - a.WalletLimit
		moved := min(overflow, max(a.BankLimit-oldBank, 0))
		newWallet = a.WalletLimit
		newBank += moved
		ov.Lost += overflow - moved
		ov.Handled = true
	}
	if newBank > a.BankLimit {
		ov.Lost += newBank - a.BankLimit
		newBank = a.BankLimit
		ov.Handled = true
	}

	a.Wallet = max(newWallet, 0)
	a.Bank = max(newBank, 0)
	a.Networth = a.Wallet + a.Bank

	ov.ActualWalletDelta = a.Wallet - oldWallet
	ov.ActualBankDelta = a.Bank - oldBank
	if net := ov.ActualWalletDelta + ov.ActualBankDelta; net > 0 {
		a.TotalEarned += net
	}
	return ov
}

func clampBalances(a *Account) {
	a.WalletLimit = min(max(a.WalletLimit, 1), MaxWalletLimit)
	a.BankLimit = min(max(a.BankLimit, 1), MaxBankLimit)
	a.Wallet = min(max(a.Wallet, 0), a.WalletLimit)
	a.Bank = min(max(a.Bank, 0), a.BankLimit)
	a.Networth = a.Wallet + a.Bank
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// randRange returns a uniform integer in [lo, hi].
func (s *Service) randRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rand.Int63n(hi-lo+1)
}
