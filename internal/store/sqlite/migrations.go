package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations returns the schema statements in application order.
// Each string is a single statement; SQLite executes one at a time.
// Timestamps are stored as Unix nanoseconds.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS members (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT 'MEMBER',
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			amount      INTEGER NOT NULL CHECK (amount <> 0),
			reason      TEXT NOT NULL,
			category    TEXT NOT NULL CHECK (category IN ('BONUS', 'SPENT', 'ACHIEVEMENT')),
			transfer_id TEXT,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_transfer ON ledger_entries(transfer_id)`,

		`CREATE TABLE IF NOT EXISTS transfers (
			id              TEXT PRIMARY KEY,
			from_account_id TEXT NOT NULL,
			to_account_id   TEXT NOT NULL,
			amount          INTEGER NOT NULL CHECK (amount > 0),
			message         TEXT,
			created_at      INTEGER NOT NULL,
			CHECK (from_account_id <> to_account_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_account_id)`,

		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key             TEXT PRIMARY KEY,
			request_hash    TEXT NOT NULL,
			status          TEXT NOT NULL,
			response_status INTEGER,
			response_body   BLOB,
			created_at      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS free_visit_grants (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			amount     INTEGER NOT NULL CHECK (amount > 0),
			used       INTEGER NOT NULL DEFAULT 0 CHECK (used >= 0 AND used <= amount),
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_free_visit_grants_account ON free_visit_grants(account_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS products (
			id     TEXT PRIMARY KEY,
			name   TEXT NOT NULL,
			price  INTEGER NOT NULL CHECK (price > 0),
			active INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id           TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL,
			total_amount INTEGER NOT NULL CHECK (total_amount > 0),
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id)`,

		`CREATE TABLE IF NOT EXISTS order_lines (
			id         TEXT PRIMARY KEY,
			order_id   TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL,
			quantity   INTEGER NOT NULL CHECK (quantity > 0),
			unit_price INTEGER NOT NULL CHECK (unit_price > 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			id          TEXT PRIMARY KEY,
			order_id    TEXT NOT NULL UNIQUE REFERENCES orders(id),
			status      TEXT NOT NULL,
			redeemed_at INTEGER,
			redeemed_by TEXT,
			created_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS resources (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			title             TEXT NOT NULL,
			capacity          INTEGER CHECK (capacity IS NULL OR capacity >= 0),
			requires_approval INTEGER NOT NULL DEFAULT 0,
			starts_at         INTEGER,
			created_at        INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS enrollments (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			resource_id TEXT NOT NULL REFERENCES resources(id),
			status      TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_enrollments_live
			ON enrollments(account_id, resource_id) WHERE status <> 'CANCELLED'`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_resource ON enrollments(resource_id, status)`,

		`CREATE TABLE IF NOT EXISTS achievements (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			reward_amount INTEGER NOT NULL DEFAULT 0 CHECK (reward_amount >= 0),
			is_active     INTEGER NOT NULL DEFAULT 1,
			code          TEXT UNIQUE,
			qr_code       TEXT UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS achievement_grants (
			id             TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			achievement_id TEXT NOT NULL REFERENCES achievements(id),
			granted_by     TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			UNIQUE (account_id, achievement_id)
		)`,
	}
}

// Migrate applies every migration statement in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
