package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"bartab/internal/economy"
)

func TestMemoryStoreAccounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LoadAccount(ctx, 1); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	doc := []byte(`{"wallet": 5}`)
	if err := s.SaveAccount(ctx, economy.Record{UserID: 1, SchemaVersion: 1, Networth: 5, Doc: doc}); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc[0] = 'X'
	rec, err := s.LoadAccount(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(rec.Doc) != `{"wallet": 5}` {
		t.Fatalf("stored document shares caller memory: %s", rec.Doc)
	}

	_ = s.SaveAccount(ctx, economy.Record{UserID: 2, SchemaVersion: 2, Networth: 10, Doc: []byte(`{}`)})
	ids, _ := s.StaleAccounts(ctx, 2, 10)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected stale ids: %v", ids)
	}
	st, _ := s.Stats(ctx)
	if st.TotalUsers != 2 || st.TotalMoney != 15 || st.Backend != "memory" {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestMemoryStoreCooldownExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	if err := s.StampCooldown(ctx, 1, "daily", at, time.Hour); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	got, err := s.CooldownStamp(ctx, 1, "daily", at.Add(30*time.Minute))
	if err != nil || !got.Equal(at) {
		t.Fatalf("stamp lookup: %v %v", got, err)
	}
	if _, err := s.CooldownStamp(ctx, 1, "daily", at.Add(time.Hour)); !errors.Is(err, economy.ErrNotFound) {
		t.Fatalf("expected expired stamp, got %v", err)
	}
	n, _ := s.PurgeCooldowns(ctx, at.Add(2*time.Hour))
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
}

func TestMemoryStoreInventory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	uses := 3
	item := economy.InventoryItem{UserID: 1, ItemID: 10, Name: "Lucky Dice", Quantity: 1, UsesRemaining: &uses}
	if err := s.PutInventoryItem(ctx, item); err != nil {
		t.Fatalf("put: %v", err)
	}
	uses = 0

	items, _ := s.Inventory(ctx, 1)
	if len(items) != 1 || *items[0].UsesRemaining != 3 {
		t.Fatalf("unexpected inventory: %+v", items)
	}
	_ = s.DeleteInventoryItem(ctx, 1, 10)
	items, _ = s.Inventory(ctx, 1)
	if len(items) != 0 {
		t.Fatalf("expected empty inventory, got %+v", items)
	}
}

func TestOpenWithoutDatabaseUsesMemory(t *testing.T) {
	h := Open(context.Background(), Options{}, nil)
	defer h.Close()
	if h.Backend != "memory" {
		t.Fatalf("backend %q", h.Backend)
	}
	if _, ok := h.Store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", h.Store)
	}
}

func TestOpenFallsBackOnBadURL(t *testing.T) {
	var degraded error
	h := Open(context.Background(), Options{
		DatabaseURL:     "postgres://%zz",
		ConnectAttempts: 1,
		OnDegraded:      func(err error) { degraded = err },
	}, nil)
	defer h.Close()
	if h.Backend != "memory" {
		t.Fatalf("backend %q", h.Backend)
	}
	if !errors.Is(degraded, economy.ErrStorageUnavailable) {
		t.Fatalf("expected degraded callback with ErrStorageUnavailable, got %v", degraded)
	}
}

func TestMemoryStoreRevisionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := economy.Record{UserID: 3, SchemaVersion: 2, Doc: []byte(`{}`)}

	if err := s.SaveAccount(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SaveAccount(ctx, rec); !errors.Is(err, economy.ErrConflict) {
		t.Fatalf("second insert: expected ErrConflict, got %v", err)
	}
	loaded, _ := s.LoadAccount(ctx, 3)
	if loaded.Revision != 1 {
		t.Fatalf("revision %d after insert, want 1", loaded.Revision)
	}
	if err := s.SaveAccount(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.SaveAccount(ctx, loaded); !errors.Is(err, economy.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}
	if rec, _ := s.LoadAccount(ctx, 3); rec.Revision != 2 {
		t.Fatalf("revision %d, want 2", rec.Revision)
	}
}

func TestMemoryStoreJournalIsBounded(t *testing.T) {
	s := NewMemoryStore()
	s.journalCap = 3
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := s.AppendJournal(ctx, economy.JournalEntry{UserID: 1, Lost: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.AppendJournal(ctx, economy.JournalEntry{UserID: 2, Lost: 6})

	if len(s.journal) != 3 {
		t.Fatalf("journal holds %d entries, want 3", len(s.journal))
	}
	got := s.Journal(1)
	if len(got) != 2 || got[0].Lost != 4 || got[1].Lost != 5 {
		t.Fatalf("unexpected entries for user 1: %+v", got)
	}
	if other := s.Journal(2); len(other) != 1 || other[0].Lost != 6 {
		t.Fatalf("unexpected entries for user 2: %+v", other)
	}
}
