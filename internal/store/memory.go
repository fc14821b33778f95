package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bartab/internal/economy"
)

type cooldownKey struct {
	userID int64
	action string
}

type cooldown struct {
	createdAt time.Time
	expiresAt time.Time
}

type inventoryKey struct {
	userID int64
	itemID int
}

// defaultJournalCap is how many journal entries the memory store keeps.
const defaultJournalCap = 10_000

// MemoryStore keeps everything in process maps. It is the fallback when no
// database is configured or reachable, and the store used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[int64]economy.Record
	cooldowns map[cooldownKey]cooldown
	inventory map[inventoryKey]economy.InventoryItem
	shop      []economy.ShopItem

	// journal is a ring of the newest journalCap entries; journalHead is the
	// oldest once the ring is full.
	journal     []economy.JournalEntry
	journalHead int
	journalCap  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[int64]economy.Record),
		cooldowns:  make(map[cooldownKey]cooldown),
		inventory:  make(map[inventoryKey]economy.InventoryItem),
		journalCap: defaultJournalCap,
	}
}

func (s *MemoryStore) LoadAccount(_ context.Context, userID int64) (economy.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accounts[userID]
	if !ok {
		return economy.Record{}, economy.ErrNotFound
	}
	rec.Doc = append([]byte(nil), rec.Doc...)
	return rec, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, rec economy.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.accounts[rec.UserID]; cur.Revision != rec.Revision {
		return fmt.Errorf("%w: account %d is at revision %d, write expected %d",
			economy.ErrConflict, rec.UserID, cur.Revision, rec.Revision)
	}
	rec.Doc = append([]byte(nil), rec.Doc...)
	rec.Revision++
	s.accounts[rec.UserID] = rec
	return nil
}

func (s *MemoryStore) StaleAccounts(_ context.Context, version, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, rec := range s.accounts {
		if rec.SchemaVersion < version {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) Stats(_ context.Context) (economy.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := economy.Stats{Backend: "memory"}
	for _, rec := range s.accounts {
		st.TotalUsers++
		st.TotalMoney += rec.Networth
	}
	return st, nil
}

func (s *MemoryStore) AppendJournal(_ context.Context, entry economy.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.journal) < s.journalCap {
		s.journal = append(s.journal, entry)
		return nil
	}
	s.journal[s.journalHead] = entry
	s.journalHead = (s.journalHead + 1) % len(s.journal)
	return nil
}

// Journal returns a copy of the entries recorded for userID, oldest first.
func (s *MemoryStore) Journal(userID int64) []economy.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []economy.JournalEntry
	for i := range s.journal {
		e := s.journal[(s.journalHead+i)%len(s.journal)]
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) StampCooldown(_ context.Context, userID int64, action string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[cooldownKey{userID, action}] = cooldown{createdAt: at, expiresAt: at.Add(ttl)}
	return nil
}

func (s *MemoryStore) CooldownStamp(_ context.Context, userID int64, action string, now time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cooldowns[cooldownKey{userID, action}]
	if !ok || !now.Before(c.expiresAt) {
		return time.Time{}, economy.ErrNotFound
	}
	return c.createdAt, nil
}

func (s *MemoryStore) PurgeCooldowns(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, c := range s.cooldowns {
		if !now.Before(c.expiresAt) {
			delete(s.cooldowns, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Inventory(_ context.Context, userID int64) ([]economy.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []economy.InventoryItem
	for k, it := range s.inventory {
		if k.userID == userID {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (s *MemoryStore) PutInventoryItem(_ context.Context, item economy.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inventory[inventoryKey{item.UserID, item.ItemID}] = copyItem(item)
	return nil
}

func (s *MemoryStore) DeleteInventoryItem(_ context.Context, userID int64, itemID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inventory, inventoryKey{userID, itemID})
	return nil
}

func (s *MemoryStore) ShopItems(_ context.Context) ([]economy.ShopItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shop == nil {
		return nil, economy.ErrNotFound
	}
	return append([]economy.ShopItem(nil), s.shop...), nil
}

func (s *MemoryStore) PutShopItems(_ context.Context, items []economy.ShopItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shop = append([]economy.ShopItem{}, items...)
	return nil
}

func copyItem(it economy.InventoryItem) economy.InventoryItem {
	if it.UsesRemaining != nil {
		uses := *it.UsesRemaining
		it.UsesRemaining = &uses
	}
	return it
}
