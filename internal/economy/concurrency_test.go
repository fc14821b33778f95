package economy_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bartab/internal/economy"
	"bartab/internal/store"
)

// hookStore wraps a store to slow down or fail saves and to pause after a load.
type hookStore struct {
	economy.Store
	saveDelay time.Duration
	failSave  atomic.Bool
	afterLoad func()
}

func (h *hookStore) LoadAccount(ctx context.Context, userID int64) (economy.Record, error) {
	rec, err := h.Store.LoadAccount(ctx, userID)
	if h.afterLoad != nil {
		h.afterLoad()
	}
	return rec, err
}

func (h *hookStore) SaveAccount(ctx context.Context, rec economy.Record) error {
	if h.failSave.Load() {
		return errors.New("db down")
	}
	time.Sleep(h.saveDelay)
	return h.Store.SaveAccount(ctx, rec)
}

func newServiceOn(t *testing.T, st economy.Store) *economy.Service {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	return economy.NewService(st, nil,
		economy.WithClock(clock.Now),
		economy.WithRand(rand.New(rand.NewSource(7))),
		economy.WithLockTimeout(5*time.Second),
	)
}

func TestConcurrentDailyClaimsPayOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := newServiceOn(t, &hookStore{Store: mem, saveDelay: 2 * time.Millisecond})
	ctx := context.Background()

	const n = 10
	var paid, refused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Daily(ctx, 9)
			switch {
			case err == nil:
				paid.Add(1)
			case errors.Is(err, economy.ErrCooldown):
				refused.Add(1)
			default:
				t.Errorf("daily: %v", err)
			}
		}()
	}
	wg.Wait()

	if paid.Load() != 1 || refused.Load() != n-1 {
		t.Fatalf("paid=%d refused=%d, want 1 and %d", paid.Load(), refused.Load(), n-1)
	}
	acct, err := svc.GetAccount(ctx, 9)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.DailyStreak != 1 {
		t.Fatalf("streak %d, want 1", acct.DailyStreak)
	}
	if got := len(mem.Journal(9)); got != 1 {
		t.Fatalf("journal has %d entries, want 1", got)
	}
}

func TestMigrationRaceKeepsConcurrentCredit(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	legacy := economy.Record{
		UserID:        77,
		SchemaVersion: 1,
		Doc:           []byte(`{"user_id": 77, "wallet": 250, "_schema_version": 1}`),
	}
	if err := mem.SaveAccount(ctx, legacy); err != nil {
		t.Fatalf("seed: %v", err)
	}

	paused := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	// Two services with their own lock registries stand in for the API and
	// the worker process.
	worker := newServiceOn(t, &hookStore{Store: mem, afterLoad: func() {
		once.Do(func() {
			close(paused)
			<-resume
		})
	}})
	api := newServiceOn(t, mem)

	done := make(chan error, 1)
	go func() {
		_, err := worker.MigrateStale(ctx, 10)
		done <- err
	}()

	<-paused
	if _, err := api.UpdateBalance(ctx, 77, 1000, 0); err != nil {
		t.Fatalf("credit: %v", err)
	}
	close(resume)
	if err := <-done; err != nil {
		t.Fatalf("migrate: %v", err)
	}

	acct, err := api.GetAccount(ctx, 77)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Wallet != 1250 {
		t.Fatalf("wallet = %d, want 1250", acct.Wallet)
	}
}

func TestUpdateBalanceRejectsWrappingDelta(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, d := range [][2]int64{{math.MaxInt64, 0}, {0, math.MaxInt64}, {math.MinInt64, 0}} {
		if _, err := svc.UpdateBalance(ctx, 3, d[0], d[1]); !errors.Is(err, economy.ErrInvalidAmount) {
			t.Fatalf("deltas %v: expected ErrInvalidAmount, got %v", d, err)
		}
	}
	acct, err := svc.GetAccount(ctx, 3)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Wallet != economy.StartingMoney || acct.Bank != 0 {
		t.Fatalf("balances changed: wallet=%d bank=%d", acct.Wallet, acct.Bank)
	}
}

func TestBuyItemFailedSaveLeavesNoItem(t *testing.T) {
	mem := store.NewMemoryStore()
	hook := &hookStore{Store: mem}
	svc := newServiceOn(t, hook)
	ctx := context.Background()
	setBalances(t, svc, 5, 0, 10_000)

	hook.failSave.Store(true)
	if _, err := svc.BuyItem(ctx, 5, 9); err == nil {
		t.Fatalf("expected the purchase to fail")
	}
	hook.failSave.Store(false)
	if inv, _ := svc.Inventory(ctx, 5); len(inv) != 0 {
		t.Fatalf("unpaid item stocked: %+v", inv)
	}

	if _, err := svc.BuyItem(ctx, 5, 9); err != nil {
		t.Fatalf("buy: %v", err)
	}
	hook.failSave.Store(true)
	if _, err := svc.BuyItem(ctx, 5, 9); err == nil {
		t.Fatalf("expected the second purchase to fail")
	}
	hook.failSave.Store(false)

	inv, _ := svc.Inventory(ctx, 5)
	if len(inv) != 1 || inv[0].Quantity != 1 {
		t.Fatalf("inventory after failed restock: %+v", inv)
	}
	acct, err := svc.GetAccount(ctx, 5)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Bank != 9000 {
		t.Fatalf("bank = %d, want 9000", acct.Bank)
	}
}

func TestUseItemFailedSaveKeepsItem(t *testing.T) {
	mem := store.NewMemoryStore()
	hook := &hookStore{Store: mem}
	svc := newServiceOn(t, hook)
	ctx := context.Background()
	setBalances(t, svc, 5, 0, 10_000)
	if _, err := svc.BuyItem(ctx, 5, 9); err != nil {
		t.Fatalf("buy: %v", err)
	}

	hook.failSave.Store(true)
	if _, err := svc.UseItem(ctx, 5, 9); err == nil {
		t.Fatalf("expected use to fail")
	}
	hook.failSave.Store(false)
	inv, _ := svc.Inventory(ctx, 5)
	if len(inv) != 1 || inv[0].Quantity != 1 {
		t.Fatalf("mystery box lost on failed use: %+v", inv)
	}

	res, err := svc.UseItem(ctx, 5, 9)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if res.Payout < 500 || res.Payout > 5000 || res.Account.Wallet != res.Payout {
		t.Fatalf("unexpected payout %d, wallet %d", res.Payout, res.Account.Wallet)
	}
	if inv, _ := svc.Inventory(ctx, 5); len(inv) != 0 {
		t.Fatalf("box should be used up: %+v", inv)
	}
	if _, err := svc.UseItem(ctx, 5, 9); !errors.Is(err, economy.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem on second use, got %v", err)
	}
}
