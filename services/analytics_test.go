package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
	"pricewatch/storage"
)

func newTestAnalytics(t *testing.T, st *storage.Store) *AnalyticsService {
	t.Helper()
	return NewAnalyticsService(st, oslo(t), "på lager", []string{"ikke på lager", "utsolgt", "out of stock"}, nil).
		WithClock(func() time.Time { return testNow })
}

func insertProduct(t *testing.T, st *storage.Store, website, link, identity string, price int64) *models.CompetitorProduct {
	t.Helper()
	p := &models.CompetitorProduct{
		Website: website, ProductLink: link, RawName: identity, NormalizedName: models.StrPtr(identity),
		Category: models.StrPtr("booster_box"), Language: "en", Price: price,
		FirstSeenAt: testNow, LastScrapedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, st.InsertProduct(context.Background(), p))
	return p
}

// insertStockSeries writes one Daily row per stock level, ending on the day of testNow.
func insertStockSeries(t *testing.T, st *storage.Store, productID int64, stocks []*int, price int64) {
	t.Helper()
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range stocks {
		day := end.AddDate(0, 0, i-len(stocks)+1)
		require.NoError(t, st.InsertDaily(context.Background(), &models.CompetitorProductDaily{
			ProductID: productID, Day: day.Format(DayLayout), Price: price + int64(i)*100,
			StockStatus: "På lager", StockAmount: s, ScrapedAt: day,
		}))
	}
}

func ints(vals ...int) []*int {
	out := make([]*int, len(vals))
	for i := range vals {
		out[i] = models.IntPtr(vals[i])
	}
	return out
}

func TestSalesVelocity_ReferenceSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "outland", "https://outland.no/p/v", "velocity", 10000)
	insertStockSeries(t, st, p.ID, ints(10, 7, 7, 12, 12, 0), 10000)

	v, err := newTestAnalytics(t, st).SalesVelocity(ctx, p.ID, 30)
	require.NoError(t, err)

	assert.Equal(t, models.VelocityOK, v.Status)
	assert.Equal(t, 5, v.TrackedDays)
	assert.Equal(t, 3, v.TotalSold)
	assert.Equal(t, 5, v.TotalRestocked)
	assert.Equal(t, 1, v.TimesRestocked)
	assert.Equal(t, 1, v.TimesSoldOut)
	assert.InDelta(t, 0.6, v.AvgDailySales, 1e-9)
	assert.InDelta(t, 4.2, v.WeeklyEstimate, 1e-9)
	assert.Equal(t, 0, v.CurrentStock)
	assert.Nil(t, v.DaysUntilSellout)
	assert.Equal(t, 12, v.MaxObservedStock)
	assert.InDelta(t, 25.0, v.SellThroughRate, 1e-9)

	assert.Equal(t, 3, v.PeakVelocity)
	assert.Equal(t, "2026-02-25", v.PeakVelocityDay)
	assert.InDelta(t, 101.0, v.PeakDayPrice, 1e-9)
	assert.Equal(t, "101,00", v.PeakDayPriceText)
}

func TestSalesVelocity_DaysUntilSellout(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "outland", "https://outland.no/p/s", "sellout", 10000)
	insertStockSeries(t, st, p.ID, ints(20, 16, 12), 10000)

	v, err := newTestAnalytics(t, st).SalesVelocity(ctx, p.ID, 30)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, v.AvgDailySales, 1e-9)
	require.NotNil(t, v.DaysUntilSellout)
	assert.InDelta(t, 3.0, *v.DaysUntilSellout, 1e-9)
}

// Sell-through divides by the highest stock seen in the window, not the opening stock.
func TestSalesVelocity_SellThroughUsesMaxObservedStock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "outland", "https://outland.no/p/st", "sellthrough", 10000)
	insertStockSeries(t, st, p.ID, ints(4, 20, 18, 16), 10000)

	v, err := newTestAnalytics(t, st).SalesVelocity(ctx, p.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, 4, v.TotalSold)
	assert.Equal(t, 20, v.MaxObservedStock)
	assert.InDelta(t, 20.0, v.SellThroughRate, 1e-9)
}

func TestSalesVelocity_InsufficientData(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "outland", "https://outland.no/p/i", "insufficient", 10000)
	insertStockSeries(t, st, p.ID, []*int{nil, models.IntPtr(6)}, 10000)

	v, err := newTestAnalytics(t, st).SalesVelocity(ctx, p.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, models.VelocityInsufficientData, v.Status)
	assert.Equal(t, 6, v.CurrentStock)
	assert.Zero(t, v.TrackedDays)
}

func TestSalesVelocity_Window(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "outland", "https://outland.no/p/w", "window", 10000)
	insertStockSeries(t, st, p.ID, ints(50, 10, 9, 8), 10000)

	v, err := newTestAnalytics(t, st).SalesVelocity(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, v.TrackedDays)
	assert.Equal(t, 2, v.TotalSold)
}

func TestPriceStatistics_CurrentPriceFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	today := insertProduct(t, st, "a", "https://a.no/1", "151", 50000)
	require.NoError(t, st.InsertDaily(ctx, &models.CompetitorProductDaily{
		ProductID: today.ID, Day: "2026-03-01", Price: 30000, ScrapedAt: testNow,
	}))
	require.NoError(t, st.InsertDaily(ctx, &models.CompetitorProductDaily{
		ProductID: today.ID, Day: "2026-02-27", Price: 99900, ScrapedAt: testNow,
	}))

	latest := insertProduct(t, st, "b", "https://b.no/1", "151", 50000)
	require.NoError(t, st.InsertDaily(ctx, &models.CompetitorProductDaily{
		ProductID: latest.ID, Day: "2026-02-20", Price: 40000, ScrapedAt: testNow,
	}))

	insertProduct(t, st, "c", "https://c.no/1", "151", 60000)
	insertProduct(t, st, "d", "https://d.no/1", "151", 0)

	stats, err := newTestAnalytics(t, st).PriceStatistics(ctx, "151", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.CompetitorCount)
	assert.Equal(t, map[string]float64{"a": 300, "b": 400, "c": 600}, stats.PricesByWebsite)
	assert.Equal(t, 300.0, stats.MinPrice)
	assert.Equal(t, 600.0, stats.MaxPrice)
	assert.InDelta(t, 433.33, stats.AvgPrice, 1e-9)
	assert.Equal(t, 400.0, stats.MedianPrice)
}

func TestPriceStatistics_NoCompetitors(t *testing.T) {
	st := newTestStore(t)
	stats, err := newTestAnalytics(t, st).PriceStatistics(context.Background(), "nothing", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.CompetitorCount)
	assert.Zero(t, stats.MinPrice)
	assert.Zero(t, stats.MaxPrice)
	assert.Zero(t, stats.AvgPrice)
	assert.Zero(t, stats.MedianPrice)
	assert.Empty(t, stats.PricesByWebsite)
}

func TestIsInStock(t *testing.T) {
	a := newTestAnalytics(t, newTestStore(t))

	tests := []struct {
		label string
		want  bool
	}{
		{"På lager", true},
		{"PÅ LAGER (5 stk)", true},
		{"Ikke på lager", false},
		{"Utsolgt", false},
		{"Out of stock", false},
		{"", false},
		{"Kommer snart", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.IsInStock(tt.label), tt.label)
	}
}

func TestProductsByCategory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertProduct(t, st, "a", "https://a.no/1", "151", 100)
	insertProduct(t, st, "b", "https://b.no/1", "151", 100)

	all, err := newTestAnalytics(t, st).ProductsByCategory(ctx, "booster_box", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := newTestAnalytics(t, st).ProductsByCategory(ctx, "booster_box", models.StrPtr("b"))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Website)

	none, err := newTestAnalytics(t, st).ProductsByCategory(ctx, "tin", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPriceTrend(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := insertProduct(t, st, "a", "https://a.no/1", "151", 100)

	for i, price := range []int64{100000, 0, 80000, 90000} {
		require.NoError(t, st.InsertPriceHistory(ctx, &models.CompetitorPriceHistory{
			ProductID: p.ID, Price: price, RecordedAt: testNow.Add(time.Duration(i-4) * time.Hour),
		}))
	}
	// outside the window
	require.NoError(t, st.InsertPriceHistory(ctx, &models.CompetitorPriceHistory{
		ProductID: p.ID, Price: 5000, RecordedAt: testNow.AddDate(0, 0, -60),
	}))

	tr, err := newTestAnalytics(t, st).PriceTrend(ctx, p.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Points)
	assert.Equal(t, 1000.0, tr.FirstPrice)
	assert.Equal(t, 900.0, tr.LastPrice)
	assert.Equal(t, 800.0, tr.MinPrice)
	assert.Equal(t, 1000.0, tr.MaxPrice)
	assert.InDelta(t, -10.0, tr.ChangePercent, 1e-9)
	assert.Equal(t, p.ID, tr.ProductID)
}
