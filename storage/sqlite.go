package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS competitor_products (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			website         TEXT     NOT NULL,
			product_link    TEXT     NOT NULL,
			raw_name        TEXT     NOT NULL,
			normalized_name TEXT,
			category        TEXT,
			brand           TEXT,
			language        TEXT     NOT NULL DEFAULT 'en',
			price           INTEGER  NOT NULL DEFAULT 0,
			stock_status    TEXT     NOT NULL DEFAULT '',
			stock_amount    INTEGER,
			first_seen_at   DATETIME NOT NULL,
			last_scraped_at DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,
			UNIQUE (website, product_link)
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_products_identity ON competitor_products(normalized_name);
		CREATE INDEX IF NOT EXISTS idx_competitor_products_category ON competitor_products(category);

		CREATE TABLE IF NOT EXISTS competitor_product_daily (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id   INTEGER  NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			day          TEXT     NOT NULL,
			price        INTEGER  NOT NULL DEFAULT 0,
			stock_status TEXT     NOT NULL DEFAULT '',
			stock_amount INTEGER,
			scraped_at   DATETIME NOT NULL,
			UNIQUE (product_id, day)
		);

		CREATE TABLE IF NOT EXISTS competitor_product_snapshots (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id   INTEGER  NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			price        INTEGER  NOT NULL DEFAULT 0,
			stock_status TEXT     NOT NULL DEFAULT '',
			stock_amount INTEGER,
			scraped_at   DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_product_snapshots_product ON competitor_product_snapshots(product_id);

		CREATE TABLE IF NOT EXISTS competitor_price_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id   INTEGER  NOT NULL REFERENCES competitor_products(id) ON DELETE CASCADE,
			price        INTEGER  NOT NULL DEFAULT 0,
			stock_status TEXT     NOT NULL DEFAULT '',
			stock_amount INTEGER,
			recorded_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_price_history_product ON competitor_price_history(product_id, recorded_at);

		CREATE TABLE IF NOT EXISTS competitor_product_overrides (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			normalized_name TEXT     NOT NULL,
			category        TEXT,
			website         TEXT,
			set_category    TEXT,
			set_brand       TEXT,
			set_language    TEXT,
			notes           TEXT     NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_competitor_product_overrides_identity ON competitor_product_overrides(normalized_name);
	`,
}

// OpenSQLite opens (creating if needed) a SQLite database file and runs schema migrations.
func OpenSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create data dir")
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// one writer at a time: concurrent transactions queue for the connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: enable wal")
	}

	st := newStore(db, sqliteDialect)
	if err := st.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
