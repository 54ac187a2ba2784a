package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the tables used by the ledger, the order store and the intent log.
// Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL DEFAULT '',
		size_type TEXT NOT NULL CHECK (size_type IN ('individual','free','none'))
	)`,
	`CREATE TABLE IF NOT EXISTS variant_stock (
		product_id   TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		variant_id   TEXT NOT NULL,
		size         TEXT NOT NULL DEFAULT '',
		availability INTEGER NOT NULL DEFAULT 0,
		position     INTEGER NOT NULL DEFAULT 0,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (product_id, variant_id, size)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_applications (
		id         TEXT PRIMARY KEY,
		deltas     INTEGER NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		external_id     TEXT UNIQUE,
		cart            JSONB NOT NULL,
		customer        JSONB NOT NULL,
		channel         TEXT NOT NULL DEFAULT '',
		shipping_cost   NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount        NUMERIC(12,2) NOT NULL DEFAULT 0,
		advance_payment NUMERIC(12,2) NOT NULL DEFAULT 0,
		total           NUMERIC(12,2) NOT NULL,
		status          TEXT NOT NULL,
		consignment_id  TEXT NOT NULL DEFAULT '',
		restocked       BOOLEAN NOT NULL DEFAULT false,
		created_by      TEXT NOT NULL DEFAULT '',
		updated_by      TEXT NOT NULL DEFAULT '',
		version         BIGINT NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_intents (
		id             TEXT PRIMARY KEY,
		order_id       TEXT NOT NULL,
		kind           TEXT NOT NULL,
		deltas         JSONB NOT NULL DEFAULT '[]',
		consign        BOOLEAN NOT NULL DEFAULT false,
		ledger_applied BOOLEAN NOT NULL DEFAULT false,
		consignment_id TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT 'pending',
		attempts       INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS order_intents_pending_idx ON order_intents (state, created_at)`,
	`CREATE INDEX IF NOT EXISTS order_intents_order_idx ON order_intents (order_id)`,
}
