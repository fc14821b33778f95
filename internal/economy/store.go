package economy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the stored form of an account: an opaque JSON document plus the
// columns the store needs for indexing and aggregation.
type Record struct {
	UserID        int64
	SchemaVersion int
	Networth      int64
	Doc           []byte
	UpdatedAt     time.Time
	Revision      int64
}

// JournalEntry records one committed balance mutation.
type JournalEntry struct {
	ID                   uuid.UUID `json:"id"`
	UserID               int64     `json:"user_id"`
	Reason               string    `json:"reason"`
	RequestedWalletDelta int64     `json:"requested_wallet_delta"`
	RequestedBankDelta   int64     `json:"requested_bank_delta"`
	ActualWalletDelta    int64     `json:"actual_wallet_delta"`
	ActualBankDelta      int64     `json:"actual_bank_delta"`
	Lost                 int64     `json:"lost"`
	At                   time.Time `json:"at"`
}

type ItemKind string

const (
	ItemUpgrade    ItemKind = "upgrade"
	ItemConsumable ItemKind = "consumable"
)

type ItemEffect struct {
	WalletLimit   int64   `json:"wallet_limit,omitempty"`
	BankLimit     int64   `json:"bank_limit,omitempty"`
	DailyBonus    float64 `json:"daily_bonus,omitempty"`
	WorkBonus     float64 `json:"work_bonus,omitempty"`
	GamblingBonus float64 `json:"gambling_bonus,omitempty"`
	MysteryBox    bool    `json:"mystery_box,omitempty"`
	DurationDays  int     `json:"duration,omitempty"`
	Uses          int     `json:"uses,omitempty"`
}

type ShopItem struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Price       int64      `json:"price"`
	Description string     `json:"description"`
	Kind        ItemKind   `json:"type"`
	Effect      ItemEffect `json:"effect"`
	Emoji       string     `json:"emoji"`
	Stock       int        `json:"stock"` // -1 is unlimited
}

type InventoryItem struct {
	UserID        int64      `json:"user_id"`
	ItemID        int        `json:"item_id"`
	Name          string     `json:"name"`
	Kind          ItemKind   `json:"type"`
	Effect        ItemEffect `json:"effect"`
	Emoji         string     `json:"emoji"`
	Quantity      int        `json:"quantity"`
	UsesRemaining *int       `json:"uses_remaining,omitempty"`
	PurchasedAt   time.Time  `json:"purchased_at"`
}

// Store is the persistence contract for the economy. Implementations must be
// safe for concurrent use; per-account serialization is the Service's job.
type Store interface {
	// LoadAccount returns ErrNotFound when the account has never been saved.
	LoadAccount(ctx context.Context, userID int64) (Record, error)
	// SaveAccount writes the whole record in a single conditional write. It
	// succeeds only while the stored revision still equals rec.Revision (zero
	// means the account must not exist yet), bumps the stored revision by one,
	// and returns ErrConflict otherwise.
	SaveAccount(ctx context.Context, rec Record) error
	// StaleAccounts lists up to limit ids stored below the given schema version.
	StaleAccounts(ctx context.Context, version, limit int) ([]int64, error)
	Stats(ctx context.Context) (Stats, error)

	AppendJournal(ctx context.Context, entry JournalEntry) error

	StampCooldown(ctx context.Context, userID int64, action string, at time.Time, ttl time.Duration) error
	// CooldownStamp returns ErrNotFound when no unexpired stamp exists.
	CooldownStamp(ctx context.Context, userID int64, action string, now time.Time) (time.Time, error)
	PurgeCooldowns(ctx context.Context, now time.Time) (int64, error)

	Inventory(ctx context.Context, userID int64) ([]InventoryItem, error)
	PutInventoryItem(ctx context.Context, item InventoryItem) error
	DeleteInventoryItem(ctx context.Context, userID int64, itemID int) error

	// ShopItems returns ErrNotFound when the catalog has not been seeded.
	ShopItems(ctx context.Context) ([]ShopItem, error)
	PutShopItems(ctx context.Context, items []ShopItem) error
}
