package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS economy`,
	`CREATE TABLE IF NOT EXISTS economy.accounts (
		user_id BIGINT PRIMARY KEY,
		schema_version INT NOT NULL,
		networth BIGINT NOT NULL DEFAULT 0,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		revision BIGINT NOT NULL DEFAULT 1
	)`,
	`ALTER TABLE economy.accounts ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 1`,
	`CREATE INDEX IF NOT EXISTS accounts_schema_version_idx ON economy.accounts (schema_version)`,
	`CREATE TABLE IF NOT EXISTS economy.cooldowns (
		user_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, action)
	)`,
	`CREATE INDEX IF NOT EXISTS cooldowns_expires_at_idx ON economy.cooldowns (expires_at)`,
	`CREATE TABLE IF NOT EXISTS economy.inventory (
		user_id BIGINT NOT NULL,
		item_id INT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		effect JSONB NOT NULL DEFAULT '{}'::jsonb,
		emoji TEXT NOT NULL DEFAULT '',
		quantity INT NOT NULL DEFAULT 1,
		uses_remaining INT,
		purchased_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS economy.shop_catalog (
		id INT PRIMARY KEY,
		items JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS economy.journal (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		reason TEXT NOT NULL,
		requested_wallet_delta BIGINT NOT NULL,
		requested_bank_delta BIGINT NOT NULL,
		actual_wallet_delta BIGINT NOT NULL,
		actual_bank_delta BIGINT NOT NULL,
		lost BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS journal_user_idx ON economy.journal (user_id, created_at)`,
}

// EnsureSchema creates the economy tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
