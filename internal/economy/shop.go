package economy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultShopItems is the catalog seeded on first read.
func DefaultShopItems() []ShopItem {
	return []ShopItem{
		{ID: 1, Name: "Wallet Upgrade", Price: 2000, Description: "Increase wallet limit by 5,000", Kind: ItemUpgrade, Effect: ItemEffect{WalletLimit: 5000}, Emoji: "💰", Stock: -1},
		{ID: 2, Name: "Premium Wallet", Price: 8000, Description: "Increase wallet limit by 15,000", Kind: ItemUpgrade, Effect: ItemEffect{WalletLimit: 15000}, Emoji: "💎", Stock: -1},
		{ID: 3, Name: "Mega Wallet", Price: 25000, Description: "Increase wallet limit by 50,000", Kind: ItemUpgrade, Effect: ItemEffect{WalletLimit: 50000}, Emoji: "🏦", Stock: -1},
		{ID: 4, Name: "Bank Upgrade", Price: 5000, Description: "Increase bank limit by 50,000", Kind: ItemUpgrade, Effect: ItemEffect{BankLimit: 50000}, Emoji: "🏛️", Stock: -1},
		{ID: 5, Name: "Premium Bank", Price: 15000, Description: "Increase bank limit by 150,000", Kind: ItemUpgrade, Effect: ItemEffect{BankLimit: 150000}, Emoji: "💳", Stock: -1},
		{ID: 6, Name: "Mega Bank", Price: 50000, Description: "Increase bank limit by 500,000", Kind: ItemUpgrade, Effect: ItemEffect{BankLimit: 500000}, Emoji: "🏦", Stock: -1},
		{ID: 7, Name: "Lucky Hat", Price: 3000, Description: "Increases daily rewards by 20% for 7 days", Kind: ItemConsumable, Effect: ItemEffect{DailyBonus: 1.2, DurationDays: 7}, Emoji: "🎩", Stock: -1},
		{ID: 8, Name: "Lucky Charm", Price: 2500, Description: "Increases work earnings by 30% for 5 days", Kind: ItemConsumable, Effect: ItemEffect{WorkBonus: 1.3, DurationDays: 5}, Emoji: "🍀", Stock: -1},
		{ID: 9, Name: "Mystery Box", Price: 1000, Description: "Contains a random amount of money between 500 and 5,000", Kind: ItemConsumable, Effect: ItemEffect{MysteryBox: true}, Emoji: "🎁", Stock: -1},
		// No minigame reads gambling_bonus, so using the dice only records the effect.
		{ID: 10, Name: "Lucky Dice", Price: 1500, Description: "Increases gambling winnings by 10% for 3 uses", Kind: ItemConsumable, Effect: ItemEffect{GamblingBonus: 1.1, Uses: 3}, Emoji: "🎲", Stock: -1},
	}
}

const (
	mysteryBoxMin = 500
	mysteryBoxMax = 5000
)

type PurchaseResult struct {
	Item    ShopItem       `json:"item"`
	Account Account        `json:"account"`
	Stored  *InventoryItem `json:"inventory,omitempty"`
}

type UseResult struct {
	Item      InventoryItem `json:"item"`
	Effect    string        `json:"effect,omitempty"`
	Payout    int64         `json:"payout,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Account   Account       `json:"account"`
}

// ShopItems returns the catalog, seeding the defaults when the store has none.
func (s *Service) ShopItems(ctx context.Context) ([]ShopItem, error) {
	items, err := s.store.ShopItems(ctx)
	if errors.Is(err, ErrNotFound) {
		items = DefaultShopItems()
		if err := s.store.PutShopItems(ctx, items); err != nil {
			return nil, fmt.Errorf("seed shop: %w", err)
		}
		s.log.Info("shop catalog seeded", "items", len(items))
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load shop: %w", err)
	}
	return items, nil
}

func (s *Service) Inventory(ctx context.Context, userID int64) ([]InventoryItem, error) {
	items, err := s.store.Inventory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load inventory %d: %w", userID, err)
	}
	return items, nil
}

// BuyItem pays for an item from the bank. Upgrades apply to the account at
// once; consumables land in the inventory.
func (s *Service) BuyItem(ctx context.Context, userID int64, itemID int) (PurchaseResult, error) {
	catalog, err := s.ShopItems(ctx)
	if err != nil {
		return PurchaseResult{}, err
	}
	item, ok := findItem(catalog, itemID)
	if !ok {
		return PurchaseResult{}, fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
	}

	var out PurchaseResult
	err = s.locked(ctx, userID, func() error {
		var stored *InventoryItem
		undo := func(context.Context) error { return nil }
		if item.Kind != ItemUpgrade {
			inv, restore, err := s.stockInventory(ctx, userID, item)
			if err != nil {
				return err
			}
			stored, undo = &inv, restore
		}
		err := s.mutate(ctx, userID, func(acct *Account) error {
			if acct.Bank < item.Price {
				return fmt.Errorf("%w: %s costs %d, bank has %d", ErrInsufficientFunds, item.Name, item.Price, acct.Bank)
			}
			if item.Kind == ItemUpgrade {
				if item.Effect.WalletLimit > 0 {
					acct.WalletLimit = min(acct.WalletLimit+item.Effect.WalletLimit, MaxWalletLimit)
				}
				if item.Effect.BankLimit > 0 {
					acct.BankLimit = min(acct.BankLimit+item.Effect.BankLimit, MaxBankLimit)
				}
			}
			res, err := s.applyLocked(ctx, acct, 0, -item.Price, "shop_purchase")
			if err != nil {
				return err
			}
			out = PurchaseResult{Item: item, Account: res.Account, Stored: stored}
			return nil
		})
		if err != nil {
			if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
				s.log.Error("inventory rollback failed", "user_id", userID, "item", item.ID, "err", uerr)
			}
		}
		return err
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("item purchased", "user_id", userID, "item", item.Name, "price", item.Price)
	return out, nil
}

// UseItem consumes one unit of an inventory item and applies its effect. The
// unit is taken before the effect is granted and put back if the grant fails.
func (s *Service) UseItem(ctx context.Context, userID int64, itemID int) (UseResult, error) {
	var out UseResult
	err := s.locked(ctx, userID, func() error {
		items, err := s.store.Inventory(ctx, userID)
		if err != nil {
			return fmt.Errorf("load inventory %d: %w", userID, err)
		}
		inv, ok := findInventory(items, itemID)
		if !ok {
			return fmt.Errorf("%w: %d not in inventory", ErrUnknownItem, itemID)
		}
		if inv.Kind != ItemConsumable {
			return fmt.Errorf("%w: %s cannot be used", ErrUnknownItem, inv.Name)
		}
		eff := inv.Effect
		if !eff.MysteryBox && eff.DailyBonus <= 0 && eff.WorkBonus <= 0 && eff.GamblingBonus <= 0 {
			return fmt.Errorf("%w: %s has no usable effect", ErrUnknownItem, inv.Name)
		}

		if err := s.consume(ctx, inv); err != nil {
			return err
		}
		var payout int64
		if eff.MysteryBox {
			payout = s.randRange(mysteryBoxMin, mysteryBoxMax)
		}
		err = s.mutate(ctx, userID, func(acct *Account) error {
			now := s.now()
			out = UseResult{Item: inv}
			switch {
			case eff.DailyBonus > 0:
				out.Effect, out.ExpiresAt = grantEffect(acct, EffectDailyBonus, eff.DailyBonus, eff, now)
			case eff.WorkBonus > 0:
				out.Effect, out.ExpiresAt = grantEffect(acct, EffectWorkBonus, eff.WorkBonus, eff, now)
			case eff.GamblingBonus > 0:
				out.Effect, out.ExpiresAt = grantEffect(acct, EffectGamblingBonus, eff.GamblingBonus, eff, now)
			}
			res, err := s.applyLocked(ctx, acct, payout, 0, "use_item")
			if err != nil {
				return err
			}
			out.Payout = payout
			out.Account = res.Account
			return nil
		})
		if err != nil {
			if rerr := s.store.PutInventoryItem(context.WithoutCancel(ctx), inv); rerr != nil {
				s.log.Error("inventory restore failed", "user_id", userID, "item", itemID, "err", rerr)
			}
			return err
		}
		return nil
	})
	return out, err
}

// grantEffect stores a timed or counted multiplier on the account.
func grantEffect(acct *Account, name string, mult float64, eff ItemEffect, now time.Time) (string, *time.Time) {
	if acct.Effects == nil {
		acct.Effects = map[string]Effect{}
	}
	e := Effect{Multiplier: mult, UsesRemaining: eff.Uses}
	if eff.DurationDays > 0 {
		exp := now.Add(time.Duration(eff.DurationDays) * 24 * time.Hour)
		e.ExpiresAt = &exp
	}
	acct.Effects[name] = e
	return name, e.ExpiresAt
}

// stockInventory adds one unit of item to the user's inventory and returns a
// func that puts the row back the way it was.
func (s *Service) stockInventory(ctx context.Context, userID int64, item ShopItem) (InventoryItem, func(context.Context) error, error) {
	items, err := s.store.Inventory(ctx, userID)
	if err != nil {
		return InventoryItem{}, nil, fmt.Errorf("load inventory %d: %w", userID, err)
	}
	prev, existed := findInventory(items, item.ID)
	inv := prev
	if existed {
		inv.Quantity++
	} else {
		inv = InventoryItem{
			UserID:      userID,
			ItemID:      item.ID,
			Name:        item.Name,
			Kind:        item.Kind,
			Effect:      item.Effect,
			Emoji:       item.Emoji,
			Quantity:    1,
			PurchasedAt: s.now(),
		}
		if item.Effect.Uses > 0 {
			uses := item.Effect.Uses
			inv.UsesRemaining = &uses
		}
	}
	if err := s.store.PutInventoryItem(ctx, inv); err != nil {
		return InventoryItem{}, nil, fmt.Errorf("store inventory %d: %w", userID, err)
	}
	undo := func(ctx context.Context) error {
		if existed {
			return s.store.PutInventoryItem(ctx, prev)
		}
		return s.store.DeleteInventoryItem(ctx, userID, item.ID)
	}
	return inv, undo, nil
}

// consume decrements quantity first, then remaining uses, and deletes the row
// when nothing is left.
func (s *Service) consume(ctx context.Context, inv InventoryItem) error {
	switch {
	case inv.Quantity > 1:
		inv.Quantity--
	case inv.UsesRemaining != nil && *inv.UsesRemaining > 1:
		uses := *inv.UsesRemaining - 1
		inv.UsesRemaining = &uses
	default:
		if err := s.store.DeleteInventoryItem(ctx, inv.UserID, inv.ItemID); err != nil {
			return fmt.Errorf("delete inventory %d/%d: %w", inv.UserID, inv.ItemID, err)
		}
		return nil
	}
	if err := s.store.PutInventoryItem(ctx, inv); err != nil {
		return fmt.Errorf("store inventory %d: %w", inv.UserID, err)
	}
	return nil
}

func findItem(items []ShopItem, id int) (ShopItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return ShopItem{}, false
}

func findInventory(items []InventoryItem, id int) (InventoryItem, bool) {
	for _, it := range items {
		if it.ItemID == id {
			return it, true
		}
	}
	return InventoryItem{}, false
}
