package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("CANONICAL_THRESHOLD", "")
	t.Setenv("OUT_OF_STOCK_LABELS", "")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 0.88, cfg.CanonicalThreshold)
	assert.Equal(t, "Europe/Oslo", cfg.Timezone)
	assert.Contains(t, cfg.OutOfStockLabels, "ikke på lager")
	assert.Empty(t, cfg.AllowedBrands)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/pw.db")
	t.Setenv("CANONICAL_THRESHOLD", "0.9")
	t.Setenv("ALLOWED_BRANDS", "pokemon, one_piece ,")
	t.Setenv("INGEST_BATCH_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, "/tmp/pw.db", cfg.DSN())
	assert.Equal(t, 0.9, cfg.CanonicalThreshold)
	assert.Equal(t, []string{"pokemon", "one_piece"}, cfg.AllowedBrands)
	assert.Equal(t, 50, cfg.BatchSize)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "d", PostgresSSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
