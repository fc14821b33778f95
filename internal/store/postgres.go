package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bartab/internal/economy"
)

// PostgresStore keeps account documents as JSONB next to the columns needed
// for migration scans and aggregate stats.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadAccount(ctx context.Context, userID int64) (economy.Record, error) {
	rec := economy.Record{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT schema_version, networth, doc::TEXT, updated_at, revision
		FROM economy.accounts
		WHERE user_id = $1
	`, userID).Scan(&rec.SchemaVersion, &rec.Networth, &rec.Doc, &rec.UpdatedAt, &rec.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return economy.Record{}, economy.ErrNotFound
	}
	if err != nil {
		return economy.Record{}, fmt.Errorf("get account %d: %w", userID, err)
	}
	return rec, nil
}

// SaveAccount inserts a new account at revision 1 or updates an existing one
// only while its revision is still rec.Revision.
func (s *PostgresStore) SaveAccount(ctx context.Context, rec economy.Record) error {
	if rec.Revision == 0 {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO economy.accounts (user_id, schema_version, networth, doc, updated_at, revision)
			VALUES ($1, $2, $3, $4::JSONB, $5, 1)
		`, rec.UserID, rec.SchemaVersion, rec.Networth, string(rec.Doc), rec.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %d already exists", economy.ErrConflict, rec.UserID)
		}
		if err != nil {
			return fmt.Errorf("insert account %d: %w", rec.UserID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE economy.accounts
		SET schema_version = $2,
		    networth = $3,
		    doc = $4::JSONB,
		    updated_at = $5,
		    revision = revision + 1
		WHERE user_id = $1 AND revision = $6
	`, rec.UserID, rec.SchemaVersion, rec.Networth, string(rec.Doc), rec.UpdatedAt, rec.Revision)
	if err != nil {
		return fmt.Errorf("update account %d: %w", rec.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d is no longer at revision %d", economy.ErrConflict, rec.UserID, rec.Revision)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) StaleAccounts(ctx context.Context, version, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id
		FROM economy.accounts
		WHERE schema_version < $1
		ORDER BY user_id
		LIMIT $2
	`, version, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan stale accounts: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (economy.Stats, error) {
	st := economy.Stats{Backend: "postgres"}
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(networth), 0)::BIGINT
		FROM economy.accounts
	`).Scan(&st.TotalUsers, &st.TotalMoney)
	if err != nil {
		return economy.Stats{}, fmt.Errorf("account stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) AppendJournal(ctx context.Context, e economy.JournalEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO economy.journal (id, user_id, reason, requested_wallet_delta, requested_bank_delta,
		                             actual_wallet_delta, actual_bank_delta, lost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.Reason, e.RequestedWalletDelta, e.RequestedBankDelta,
		e.ActualWalletDelta, e.ActualBankDelta, e.Lost, e.At)
	return err
}

func (s *PostgresStore) StampCooldown(ctx context.Context, userID int64, action string, at time.Time, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO economy.cooldowns (user_id, action, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, action) DO UPDATE
		SET created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, userID, action, at, at.Add(ttl))
	return err
}

func (s *PostgresStore) CooldownStamp(ctx context.Context, userID int64, action string, now time.Time) (time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT created_at
		FROM economy.cooldowns
		WHERE user_id = $1 AND action = $2 AND expires_at > $3
	`, userID, action, now).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, economy.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

func (s *PostgresStore) PurgeCooldowns(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM economy.cooldowns WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Inventory(ctx context.Context, userID int64) ([]economy.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, name, kind, effect::TEXT, emoji, quantity, uses_remaining, purchased_at
		FROM economy.inventory
		WHERE user_id = $1
		ORDER BY item_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []economy.InventoryItem
	for rows.Next() {
		it := economy.InventoryItem{UserID: userID}
		var kind, effect string
		if err := rows.Scan(&it.ItemID, &it.Name, &kind, &effect, &it.Emoji, &it.Quantity, &it.UsesRemaining, &it.PurchasedAt); err != nil {
			return nil, err
		}
		it.Kind = economy.ItemKind(kind)
		if err := json.Unmarshal([]byte(effect), &it.Effect); err != nil {
			return nil, fmt.Errorf("decode effect for item %d: %w", it.ItemID, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutInventoryItem(ctx context.Context, it economy.InventoryItem) error {
	effect, err := json.Marshal(it.Effect)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO economy.inventory (user_id, item_id, name, kind, effect, emoji, quantity, uses_remaining, purchased_at)
		VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8, $9)
		ON CONFLICT (user_id, item_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    uses_remaining = EXCLUDED.uses_remaining
	`, it.UserID, it.ItemID, it.Name, string(it.Kind), string(effect), it.Emoji, it.Quantity, it.UsesRemaining, it.PurchasedAt)
	return err
}

func (s *PostgresStore) DeleteInventoryItem(ctx context.Context, userID int64, itemID int) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM economy.inventory WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	return err
}

func (s *PostgresStore) ShopItems(ctx context.Context) ([]economy.ShopItem, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT items::TEXT FROM economy.shop_catalog WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, economy.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var items []economy.ShopItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode shop catalog: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PutShopItems(ctx context.Context, items []economy.ShopItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO economy.shop_catalog (id, items, updated_at)
		VALUES (1, $1::JSONB, now())
		ON CONFLICT (id) DO UPDATE SET items = EXCLUDED.items, updated_at = now()
	`, string(raw))
	return err
}
