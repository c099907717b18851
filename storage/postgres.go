package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"pricewatch/utils"
)

var postgresDialect = dialect{
	name:       "postgres",
	driver:     "postgres",
	dollarArgs: true,
	schema: `
		CREATE TABLE IF NOT EXISTS competitor_products (
			id              BIGSERIAL PRIMARY KEY,
			website         TEXT        NOT NULL,
			product_link    TEXT        NOT NULL,
			raw_name        TEXT        NOT NULL,
			normalized_name TEXT,
			category        TEXT,
			brand           TEXT,
			language        TEXT        NOT NULL DEFAULT 'en',
			price           BIGINT      NOT NULL DEFAULT 0,
			stock_status    TEXT        NOT NULL DEFAULT '',
			stock_amount    INTEGER,
			first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (website, product_link)
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_products_identity ON competitor_products(normalized_name);
		CREATE INDEX IF NOT EXISTS idx_competitor_products_category ON competitor_products(category);

		CREATE TABLE IF NOT EXISTS competitor_product_daily (
			id           BIGSERIAL PRIMARY KEY,
			product_id   BIGINT      NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			day          TEXT        NOT NULL,
			price        BIGINT      NOT NULL DEFAULT 0,
			stock_status TEXT        NOT NULL DEFAULT '',
			stock_amount INTEGER,
			scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (product_id, day)
		);

		CREATE TABLE IF NOT EXISTS competitor_product_snapshots (
			id           BIGSERIAL PRIMARY KEY,
			product_id   BIGINT      NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			price        BIGINT      NOT NULL DEFAULT 0,
			stock_status TEXT        NOT NULL DEFAULT '',
			stock_amount INTEGER,
			scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_product_snapshots_product ON competitor_product_snapshots(product_id);

		CREATE TABLE IF NOT EXISTS competitor_price_history (
			id           BIGSERIAL PRIMARY KEY,
			product_id   BIGINT      NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			price        BIGINT      NOT NULL DEFAULT 0,
			stock_status TEXT        NOT NULL DEFAULT '',
			stock_amount INTEGER,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_price_history_product ON competitor_price_history(product_id, recorded_at);

		CREATE TABLE IF NOT EXISTS competitor_product_overrides (
			id              BIGSERIAL PRIMARY KEY,
			normalized_name TEXT        NOT NULL,
			category        TEXT,
			website         TEXT,
			set_category    TEXT,
			set_brand       TEXT,
			set_language    TEXT,
			notes           TEXT        NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_product_overrides_identity ON competitor_product_overrides(normalized_name);
	`,
}

// OpenPostgres connects to PostgreSQL, waiting for the server with the given retry policy,
// and runs schema migrations.
func OpenPostgres(dsn string, retry *utils.RetryConfig) (*Store, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Second}
	}
	if err := retry.Do(context.Background(), "postgres ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	st := newStore(db, postgresDialect)
	if err := st.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
