package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pricewatch/models"
	"pricewatch/utils"
)

// Requires Docker; enable with PRICEWATCH_PG_TESTS=1.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("PRICEWATCH_PG_TESTS") != "1" {
		t.Skip("set PRICEWATCH_PG_TESTS=1 to run PostgreSQL tests")
	}

	testcontainers.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "pricewatch",
				"POSTGRES_PASSWORD": "pricewatch",
				"POSTGRES_DB":       "pricewatch",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=pricewatch password=pricewatch dbname=pricewatch sslmode=disable",
		host, port.Port())
	st, err := OpenPostgres(dsn, &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, Logger: utils.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestPostgres_RoundTrip(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()
	assert.Equal(t, "postgres", st.Dialect())

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	p := sampleProduct("outland", "https://outland.no/p/1")
	require.NoError(t, tx.InsertProduct(ctx, p))
	require.NoError(t, tx.InsertDaily(ctx, &models.CompetitorProductDaily{
		ProductID: p.ID, Day: "2026-03-01", Price: p.Price, StockAmount: p.StockAmount, ScrapedAt: p.LastScrapedAt,
	}))
	require.NoError(t, tx.Commit())

	got, err := st.GetProductByLink(ctx, "outland", "https://outland.no/p/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "scarlet violet", *got.NormalizedName)

	ids, err := st.DistinctIdentities(ctx, IdentityFilter{Category: models.StrPtr("booster_box"), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"scarlet violet"}, ids)

	require.NoError(t, st.DeleteProduct(ctx, p.ID))
	daily, err := st.LatestDaily(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, daily)
}
