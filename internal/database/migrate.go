package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is ensured at startup; every statement is idempotent. Records in
// products are never deleted by the tracker, only upserted.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id               TEXT PRIMARY KEY,
		query_name       TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		price_source     BIGINT NOT NULL,
		price_converted  BIGINT,
		lowest_source    BIGINT NOT NULL,
		lowest_converted BIGINT,
		image_url        TEXT NOT NULL DEFAULT '',
		product_url      TEXT NOT NULL DEFAULT '',
		first_seen       TIMESTAMPTZ NOT NULL,
		last_updated     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_query_name ON products (query_name)`,
	`CREATE TABLE IF NOT EXISTS ignored_products (
		id       TEXT PRIMARY KEY,
		added_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		pair       TEXT PRIMARY KEY,
		rate       DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedule_state (
		query_name TEXT PRIMARY KEY,
		last_run   TIMESTAMPTZ NOT NULL
	)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
