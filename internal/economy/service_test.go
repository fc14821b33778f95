package economy_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"bartab/internal/economy"
	"bartab/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*economy.Service, *store.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore()
	svc := economy.NewService(mem, nil,
		economy.WithClock(clock.Now),
		economy.WithRand(rand.New(rand.NewSource(42))),
		economy.WithLockTimeout(5*time.Second),
	)
	return svc, mem, clock
}

func setBalances(t *testing.T, svc *economy.Service, id, wallet, bank int64) {
	t.Helper()
	_, err := svc.UpdateUser(context.Background(), id, func(a *economy.Account) error {
		a.Wallet, a.Bank = wallet, bank
		return nil
	})
	if err != nil {
		t.Fatalf("set balances for %d: %v", id, err)
	}
}

func TestGetAccountCreatesDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	acct, err := svc.GetAccount(context.Background(), 42)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Wallet != economy.StartingMoney || acct.Bank != 0 || acct.Networth != economy.StartingMoney {
		t.Fatalf("unexpected defaults: %+v", acct)
	}
	if acct.WalletLimit != economy.DefaultWalletLimit || acct.BankLimit != economy.DefaultBankLimit {
		t.Fatalf("unexpected limits: %+v", acct)
	}
	if acct.SchemaVersion != economy.CurrentSchemaVersion {
		t.Fatalf("schema version %d", acct.SchemaVersion)
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUsers != 1 || stats.TotalMoney != economy.StartingMoney {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUpdateBalanceFullWalletScenario(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	setBalances(t, svc, 1, 50_000, 0)

	res, err := svc.UpdateBalance(ctx, 1, 1000, 0)
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if res.Account.Wallet != 50_000 || res.Account.Bank != 1000 {
		t.Fatalf("wallet=%d bank=%d", res.Account.Wallet, res.Account.Bank)
	}
	if res.Overflow == nil || !res.Overflow.Handled {
		t.Fatalf("expected overflow annotation")
	}
	if res.Overflow.ActualWalletDelta != 0 || res.Overflow.ActualBankDelta != 1000 {
		t.Fatalf("unexpected overflow: %+v", res.Overflow)
	}

	reloaded, err := svc.GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Bank != 1000 || reloaded.Networth != 51_000 {
		t.Fatalf("not persisted: %+v", reloaded)
	}

	journal := mem.Journal(1)
	if len(journal) == 0 || journal[len(journal)-1].ActualBankDelta != 1000 {
		t.Fatalf("expected journal entry, got %+v", journal)
	}
}

func TestUpdateBalanceWithoutOverflowHasNoAnnotation(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.UpdateBalance(context.Background(), 3, 10, 0)
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if res.Overflow != nil {
		t.Fatalf("unexpected overflow: %+v", res.Overflow)
	}
	if res.Account.Wallet != economy.StartingMoney+10 || res.Account.TotalEarned != 10 {
		t.Fatalf("unexpected account: %+v", res.Account)
	}
}

func TestTransferPartialCreditFullDebit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	setBalances(t, svc, 1, 100, 0)
	setBalances(t, svc, 2, economy.DefaultWalletLimit-30, 0)

	ok, credited, err := svc.Transfer(ctx, 1, 2, 100)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !ok || credited != 30 {
		t.Fatalf("ok=%v credited=%d, want true/30", ok, credited)
	}
	sender, _ := svc.GetAccount(ctx, 1)
	receiver, _ := svc.GetAccount(ctx, 2)
	if sender.Wallet != 0 {
		t.Fatalf("sender wallet %d, want 0", sender.Wallet)
	}
	if receiver.Wallet != economy.DefaultWalletLimit {
		t.Fatalf("receiver wallet %d", receiver.Wallet)
	}
}

func TestTransferRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Transfer(ctx, 1, 2, 0); !errors.Is(err, economy.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := svc.Transfer(ctx, 1, 1, 10); !errors.Is(err, economy.ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	ok, credited, err := svc.Transfer(ctx, 1, 2, economy.StartingMoney+1)
	if err != nil || ok || credited != 0 {
		t.Fatalf("expected (false, 0, nil), got (%v, %d, %v)", ok, credited, err)
	}
}

func TestConcurrentDebitsNeverDoubleSpend(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	const n = 64
	setBalances(t, svc, 9, n, 0)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateBalance(ctx, 9, -1, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("debit failed: %v", err)
	}
	acct, _ := svc.GetAccount(ctx, 9)
	if acct.Wallet != 0 {
		t.Fatalf("wallet %d after %d debits, want 0", acct.Wallet, n)
	}
}

func TestConcurrentOppositeTransfersConserveMoney(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	setBalances(t, svc, 1, 1000, 0)
	setBalances(t, svc, 2, 1000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Transfer(ctx, 1, 2, 3)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = svc.Transfer(ctx, 2, 1, 3)
		}()
	}
	wg.Wait()

	a, _ := svc.GetAccount(ctx, 1)
	b, _ := svc.GetAccount(ctx, 2)
	if a.Wallet+b.Wallet != 2000 {
		t.Fatalf("money not conserved: %d + %d", a.Wallet, b.Wallet)
	}
}

func TestCooldownRoundTrip(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	remaining, err := svc.CheckCooldown(ctx, 1, "work", time.Hour)
	if err != nil || remaining != 0 {
		t.Fatalf("fresh cooldown: remaining=%v err=%v", remaining, err)
	}
	if err := svc.SetCooldown(ctx, 1, "work"); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}

	clock.Advance(20 * time.Minute)
	remaining, err = svc.CheckCooldown(ctx, 1, "work", time.Hour)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if remaining != 40*time.Minute {
		t.Fatalf("remaining %v, want 40m", remaining)
	}

	clock.Advance(40 * time.Minute)
	remaining, _ = svc.CheckCooldown(ctx, 1, "work", time.Hour)
	if remaining != 0 {
		t.Fatalf("expected ready after window, remaining %v", remaining)
	}

	// The store forgets stamps after the TTL even for longer windows.
	clock.Advance(economy.CooldownTTL)
	remaining, _ = svc.CheckCooldown(ctx, 1, "work", 48*time.Hour)
	if remaining != 0 {
		t.Fatalf("expected expired stamp, remaining %v", remaining)
	}
}

func TestPurgeCooldownsDropsExpiredStamps(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.SetCooldown(ctx, 1, "daily"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if n, err := svc.PurgeCooldowns(ctx); err != nil || n != 0 {
		t.Fatalf("fresh stamp purged: n=%d err=%v", n, err)
	}
	clock.Advance(economy.CooldownTTL)
	if err := svc.SetCooldown(ctx, 2, "daily"); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := svc.PurgeCooldowns(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v, want 1", n, err)
	}
}

func TestPortfolioUpdateValidates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p := economy.EmptyPortfolio()
	p.Stocks["TECH"] = economy.Holding{Shares: -1}
	if _, err := svc.UpdatePortfolio(ctx, 1, p); !errors.Is(err, economy.ErrInvalidPortfolio) {
		t.Fatalf("expected ErrInvalidPortfolio, got %v", err)
	}

	p = economy.EmptyPortfolio()
	p.GoldOunces = 2.5
	p.Stocks["TECH"] = economy.Holding{Shares: 3, AvgPrice: 150}
	p.Stocks["AUTO"] = economy.Holding{Shares: 0}
	got, err := svc.UpdatePortfolio(ctx, 1, p)
	if err != nil {
		t.Fatalf("update portfolio: %v", err)
	}
	if _, ok := got.Stocks["AUTO"]; ok {
		t.Fatalf("empty position should be dropped")
	}
	stored, _ := svc.GetPortfolio(ctx, 1)
	if stored.GoldOunces != 2.5 || stored.Stocks["TECH"].Shares != 3 {
		t.Fatalf("portfolio not persisted: %+v", stored)
	}
}

func TestSettleTradeRequiresBank(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	setBalances(t, svc, 1, 100, 500)

	_, err := svc.SettleTrade(ctx, 1, -600, func(p *economy.Portfolio) error {
		p.GoldOunces += 1
		return nil
	})
	if !errors.Is(err, economy.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	p, _ := svc.GetPortfolio(ctx, 1)
	if p.GoldOunces != 0 {
		t.Fatalf("failed trade must not touch the portfolio")
	}

	res, err := svc.SettleTrade(ctx, 1, -400, func(p *economy.Portfolio) error {
		p.GoldOunces += 1
		return nil
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Account.Bank != 100 || res.Account.Portfolio.GoldOunces != 1 {
		t.Fatalf("unexpected settlement: %+v", res.Account)
	}
}

func TestGetAccountMigratesLegacyRecord(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	legacy := economy.Record{
		UserID:        77,
		SchemaVersion: 1,
		Doc:           []byte(`{"user_id": 77, "wallet": 250, "_schema_version": 1, "portfolio": {"stocks": {"AUTO": 6}}}`),
	}
	if err := mem.SaveAccount(ctx, legacy); err != nil {
		t.Fatalf("seed: %v", err)
	}

	migrated, err := svc.MigrateStale(ctx, 10)
	if err != nil || migrated != 1 {
		t.Fatalf("migrate stale: n=%d err=%v", migrated, err)
	}
	rec, err := mem.LoadAccount(ctx, 77)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.SchemaVersion != economy.CurrentSchemaVersion || rec.Networth != 250 {
		t.Fatalf("record not rewritten: version=%d networth=%d", rec.SchemaVersion, rec.Networth)
	}
	acct, _ := svc.GetAccount(ctx, 77)
	if acct.Portfolio.Stocks["AUTO"].Shares != 6 || acct.BankLimit != economy.DefaultBankLimit {
		t.Fatalf("unexpected migrated account: %+v", acct)
	}
	if n, _ := svc.MigrateStale(ctx, 10); n != 0 {
		t.Fatalf("expected nothing left to migrate, got %d", n)
	}
}
