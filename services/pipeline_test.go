package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

var testNow = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

func oslo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return loc
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func newTestPipeline(t *testing.T, clock *time.Time) *Pipeline {
	t.Helper()
	logger := utils.NewNopLogger()
	p := NewPipeline(
		NewNormalizer(),
		NewCanonicalizer(DefaultCanonicalThreshold, 5000, logger),
		NewOverrideResolver(logger),
		oslo(t),
		logger,
	)
	return p.WithClock(func() time.Time { return *clock })
}

func TestPipeline_UpsertSameDayIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	obs := Observation{
		Website:     "outland",
		ProductLink: "https://outland.no/p/sv-bb",
		RawName:     "Pokémon Scarlet & Violet Booster Box",
		Price:       129900,
		StockStatus: "På lager",
		StockAmount: models.IntPtr(5),
	}

	first, err := p.Upsert(ctx, st, obs)
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	second, err := p.Upsert(ctx, st, obs)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stored, err := st.GetProduct(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastScrapedAt.Equal(testNow), "unchanged row must keep its last-scraped stamp")
	assert.Equal(t, "scarlet violet", *stored.NormalizedName)
	assert.Equal(t, "booster_box", *stored.Category)
	assert.Equal(t, "pokemon", *stored.Brand)
	assert.Equal(t, "en", stored.Language)

	daily, err := st.ListDaily(ctx, first.ID, "2000-01-01")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2026-03-01", daily[0].Day)
	assert.True(t, daily[0].ScrapedAt.Equal(clock))

	snaps, err := st.ListSnapshots(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	hist, err := st.ListPriceHistory(ctx, storage.HistoryFilter{ProductID: first.ID})
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestPipeline_ChangedObservationUpdatesRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	obs := Observation{
		Website: "outland", ProductLink: "https://outland.no/p/etb",
		RawName: "Pokemon Paldean Fates Elite Trainer Box", Price: 69900,
		StockStatus: "På lager", StockAmount: models.IntPtr(3),
	}
	created, err := p.Upsert(ctx, st, obs)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	obs.Price = 64900
	obs.StockAmount = nil
	_, err = p.Upsert(ctx, st, obs)
	require.NoError(t, err)

	stored, err := st.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 64900, stored.Price)
	assert.Nil(t, stored.StockAmount)
	assert.True(t, stored.LastScrapedAt.Equal(clock))
	assert.True(t, stored.FirstSeenAt.Equal(testNow))

	daily, err := st.GetDaily(ctx, created.ID, "2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.EqualValues(t, 64900, daily.Price)
	assert.Nil(t, daily.StockAmount)
}

func TestPipeline_DayUsesReferenceTimezone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// 23:30 UTC on 28 Feb is already 1 March in Oslo.
	clock := time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC)
	p := newTestPipeline(t, &clock)

	prod, err := p.Upsert(ctx, st, Observation{
		Website: "outland", ProductLink: "https://outland.no/p/tz", RawName: "Pokemon 151 Booster Bundle", Price: 39900,
	})
	require.NoError(t, err)

	daily, err := st.GetDaily(ctx, prod.ID, "2026-03-01")
	require.NoError(t, err)
	assert.NotNil(t, daily)
}

func TestPipeline_MissingName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	prod, err := p.Upsert(ctx, st, Observation{Website: "outland", ProductLink: "https://outland.no/p/x", RawName: "   "})
	require.NoError(t, err)
	assert.Equal(t, models.UnknownName, prod.RawName)
	require.NotNil(t, prod.NormalizedName)
	assert.Equal(t, models.UnknownName, *prod.NormalizedName)
	assert.Nil(t, prod.Category)
}

func TestPipeline_EmptyIdentityIsAbsent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	prod, err := p.Upsert(ctx, st, Observation{
		Website: "outland", ProductLink: "https://outland.no/p/generic", RawName: "Pokemon Booster Box", Price: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, prod.NormalizedName)
	require.NotNil(t, prod.Category)
	assert.Equal(t, "booster_box", *prod.Category)
}

func TestPipeline_OverrideApplied(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	require.NoError(t, p.overrides.CreateOverride(ctx, st, &models.CompetitorProductOverride{
		NormalizedName: "shiny treasure ex",
		Category:       models.StrPtr("booster_box"),
		Website:        models.StrPtr("outland"),
		SetLanguage:    models.StrPtr("ja"),
	}))

	prod, err := p.Upsert(ctx, st, Observation{
		Website: "outland", ProductLink: "https://outland.no/p/ste", RawName: "Pokemon Shiny Treasure ex Booster Box", Price: 99900,
	})
	require.NoError(t, err)
	assert.Equal(t, "ja", prod.Language)

	other, err := p.Upsert(ctx, st, Observation{
		Website: "spillhjornet", ProductLink: "https://spillhjornet.no/p/ste", RawName: "Pokemon Shiny Treasure ex Booster Box", Price: 98900,
	})
	require.NoError(t, err)
	assert.Equal(t, "en", other.Language)
}

func TestEndToEnd_CrossSiteIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := newTestPipeline(t, &clock)

	a, err := p.Upsert(ctx, st, Observation{
		Website: "outland", ProductLink: "https://outland.no/p/sv", RawName: "Scarlet & Violet Booster Box",
		Price: ParsePrice("1.299,00 kr"), StockStatus: "På lager", StockAmount: models.IntPtr(4),
	})
	require.NoError(t, err)
	b, err := p.Upsert(ctx, st, Observation{
		Website: "spillhjornet", ProductLink: "https://spillhjornet.no/p/sv", RawName: "Scarlet Violet Booster Box (Display)",
		Price: ParsePrice("1,199.00"), StockStatus: "Ikke på lager", StockAmount: models.IntPtr(0),
	})
	require.NoError(t, err)
	require.NotNil(t, a.NormalizedName)
	require.NotNil(t, b.NormalizedName)
	assert.Equal(t, *a.NormalizedName, *b.NormalizedName)

	analytics := NewAnalyticsService(st, oslo(t), "på lager", []string{"ikke på lager", "utsolgt"}, nil).
		WithClock(func() time.Time { return clock })

	stats, err := analytics.PriceStatistics(ctx, *a.NormalizedName, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CompetitorCount)
	assert.Equal(t, map[string]float64{"outland": 1299, "spillhjornet": 1199}, stats.PricesByWebsite)
	assert.Equal(t, 1199.0, stats.MinPrice)
	assert.Equal(t, 1299.0, stats.MaxPrice)
	assert.Equal(t, 1249.0, stats.AvgPrice)
	assert.Equal(t, 1249.0, stats.MedianPrice)

	avail, err := analytics.AvailabilityStatus(ctx, *a.NormalizedName, models.StrPtr("booster_box"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, avail.TotalCompetitors)
	assert.Equal(t, 1, avail.InStockCount)
	assert.Equal(t, 1, avail.OutOfStockCount)
	assert.Equal(t, 4, avail.TotalKnownUnits)
	assert.True(t, avail.ByWebsite["outland"].InStock)
	assert.False(t, avail.ByWebsite["spillhjornet"].InStock)
}
