package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// DefaultVelocityDays is the window used when a caller passes a non-positive daysBack.
const DefaultVelocityDays = 30

// AnalyticsService derives price, availability and sales estimates from stored observations.
type AnalyticsService struct {
	repo       storage.Repository
	loc        *time.Location
	now        func() time.Time
	inStock    string
	outOfStock []string
	logger     *utils.Logger
}

func NewAnalyticsService(repo storage.Repository, loc *time.Location, inStockLabel string, outOfStockLabels []string, logger *utils.Logger) *AnalyticsService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &AnalyticsService{
		repo:    repo,
		loc:     loc,
		now:     time.Now,
		inStock: strings.ToLower(inStockLabel),
		logger:  logger,
	}
	for _, l := range outOfStockLabels {
		s.outOfStock = append(s.outOfStock, strings.ToLower(l))
	}
	return s
}

// WithClock returns a copy of s that reads the current time from now.
func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *AnalyticsService) today() string {
	return DayOf(s.now(), s.loc)
}

// PriceStatistics summarises the current price of every competitor listing of identity.
// Listings without a positive price are ignored. No listings yields a zero result.
func (s *AnalyticsService) PriceStatistics(ctx context.Context, identity string, category, brand *string) (*models.PriceStatistics, error) {
	stats := &models.PriceStatistics{
		NormalizedName:  identity,
		PricesByWebsite: make(map[string]float64),
	}

	products, err := s.repo.ListProducts(ctx, storage.ProductFilter{
		NormalizedName: &identity,
		Category:       category,
		Brand:          brand,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analytics: price statistics")
	}

	today := s.today()
	var prices []float64
	for i := range products {
		p := &products[i]
		minor, err := s.currentPrice(ctx, p, today)
		if err != nil {
			return nil, err
		}
		if minor <= 0 {
			continue
		}
		price := MinorToMajor(minor)
		prices = append(prices, price)
		if cur, ok := stats.PricesByWebsite[p.Website]; !ok || price < cur {
			stats.PricesByWebsite[p.Website] = price
		}
	}
	if len(prices) == 0 {
		return stats, nil
	}

	sort.Float64s(prices)
	var total float64
	for _, p := range prices {
		total += p
	}
	stats.CompetitorCount = len(prices)
	stats.MinPrice = prices[0]
	stats.MaxPrice = prices[len(prices)-1]
	stats.AvgPrice = round2(total / float64(len(prices)))
	stats.MedianPrice = round2(median(prices))
	return stats, nil
}

// currentPrice resolves a listing's price: today's Daily row, else the latest Daily row,
// else the product row itself.
func (s *AnalyticsService) currentPrice(ctx context.Context, p *models.CompetitorProduct, today string) (int64, error) {
	d, err := s.currentDaily(ctx, p.ID, today)
	if err != nil {
		return 0, err
	}
	if d != nil {
		return d.Price, nil
	}
	return p.Price, nil
}

func (s *AnalyticsService) currentDaily(ctx context.Context, productID int64, today string) (*models.CompetitorProductDaily, error) {
	d, err := s.repo.GetDaily(ctx, productID, today)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: daily for product %d", productID)
	}
	if d != nil {
		return d, nil
	}
	d, err = s.repo.LatestDaily(ctx, productID)
	return d, eris.Wrapf(err, "analytics: latest daily for product %d", productID)
}

// AvailabilityStatus reports which competitors currently have identity in stock.
func (s *AnalyticsService) AvailabilityStatus(ctx context.Context, identity string, category, brand *string) (*models.AvailabilityStatus, error) {
	status := &models.AvailabilityStatus{
		NormalizedName: identity,
		ByWebsite:      make(map[string]models.WebsiteAvailability),
	}

	products, err := s.repo.ListProducts(ctx, storage.ProductFilter{
		NormalizedName: &identity,
		Category:       category,
		Brand:          brand,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analytics: availability")
	}

	today := s.today()
	for i := range products {
		p := &products[i]
		label, amount := p.StockStatus, p.StockAmount
		d, err := s.currentDaily(ctx, p.ID, today)
		if err != nil {
			return nil, err
		}
		if d != nil {
			label, amount = d.StockStatus, d.StockAmount
		}

		wa := models.WebsiteAvailability{
			Website:     p.Website,
			ProductLink: p.ProductLink,
			StockStatus: label,
			StockAmount: amount,
			InStock:     s.IsInStock(label),
		}
		status.TotalCompetitors++
		if wa.InStock {
			status.InStockCount++
		} else {
			status.OutOfStockCount++
		}
		if amount != nil && *amount > 0 {
			status.TotalKnownUnits += *amount
		}
		if prev, ok := status.ByWebsite[p.Website]; !ok || (!prev.InStock && wa.InStock) {
			status.ByWebsite[p.Website] = wa
		}
	}
	return status, nil
}

// IsInStock matches label case-insensitively. Out-of-stock labels are checked first
// because "ikke på lager" contains "på lager".
func (s *AnalyticsService) IsInStock(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return false
	}
	for _, out := range s.outOfStock {
		if out != "" && strings.Contains(l, out) {
			return false
		}
	}
	return s.inStock != "" && strings.Contains(l, s.inStock)
}

// SalesVelocity estimates sales from day-to-day stock deltas over the last daysBack days.
//
// A drop to zero from a positive level counts as a sell-out and is not added to units
// sold. Days with unknown stock are skipped.
func (s *AnalyticsService) SalesVelocity(ctx context.Context, productID int64, daysBack int) (*models.SalesVelocity, error) {
	if daysBack <= 0 {
		daysBack = DefaultVelocityDays
	}
	since := s.now().In(s.loc).AddDate(0, 0, -daysBack).Format(DayLayout)

	rows, err := s.repo.ListDaily(ctx, productID, since)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: velocity for product %d", productID)
	}

	var days []models.CompetitorProductDaily
	for _, d := range rows {
		if d.StockAmount != nil {
			days = append(days, d)
		}
	}

	v := &models.SalesVelocity{ProductID: productID, DaysBack: daysBack}
	if len(days) > 0 {
		v.CurrentStock = *days[len(days)-1].StockAmount
	}
	if len(days) < 2 {
		v.Status = models.VelocityInsufficientData
		return v, nil
	}
	v.Status = models.VelocityOK

	v.MaxObservedStock = *days[0].StockAmount
	for i := 1; i < len(days); i++ {
		prev, cur := *days[i-1].StockAmount, *days[i].StockAmount
		if cur > v.MaxObservedStock {
			v.MaxObservedStock = cur
		}
		delta := cur - prev

		switch {
		case cur == 0 && prev > 0:
			v.TimesSoldOut++
		case delta < 0:
			v.TotalSold += -delta
			if -delta > v.PeakVelocity {
				v.PeakVelocity = -delta
				v.PeakVelocityDay = days[i].Day
				v.PeakDayPrice = MinorToMajor(days[i].Price)
				v.PeakDayPriceText = FormatMinorUnits(days[i].Price)
			}
		case delta > 0:
			v.TotalRestocked += delta
			v.TimesRestocked++
		}
	}

	v.TrackedDays = len(days) - 1
	v.AvgDailySales = round2(float64(v.TotalSold) / float64(v.TrackedDays))
	v.WeeklyEstimate = round2(v.AvgDailySales * 7)
	if v.AvgDailySales > 0 && v.CurrentStock > 0 {
		d := round2(float64(v.CurrentStock) / v.AvgDailySales)
		v.DaysUntilSellout = &d
	}
	if v.MaxObservedStock > 0 {
		v.SellThroughRate = round2(float64(v.TotalSold) / float64(v.MaxObservedStock) * 100)
	}
	return v, nil
}

// ProductsByCategory lists every competitor listing in category, optionally for one website.
func (s *AnalyticsService) ProductsByCategory(ctx context.Context, category string, website *string) ([]models.CompetitorProduct, error) {
	products, err := s.repo.ListProducts(ctx, storage.ProductFilter{Category: &category, Website: website})
	return products, eris.Wrap(err, "analytics: products by category")
}

// PriceTrend compares the oldest and newest price-history points in the window.
// Zero prices are ignored.
func (s *AnalyticsService) PriceTrend(ctx context.Context, productID int64, daysBack int) (*models.PriceTrend, error) {
	if daysBack <= 0 {
		daysBack = DefaultVelocityDays
	}
	points, err := s.repo.ListPriceHistory(ctx, storage.HistoryFilter{
		ProductID: productID,
		Since:     s.now().AddDate(0, 0, -daysBack),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: price trend for product %d", productID)
	}

	trend := &models.PriceTrend{ProductID: productID}
	for _, pt := range points {
		if pt.Price <= 0 {
			continue
		}
		price := MinorToMajor(pt.Price)
		if trend.Points == 0 {
			trend.FirstPrice, trend.MinPrice, trend.MaxPrice = price, price, price
		}
		trend.Points++
		trend.LastPrice = price
		trend.MinPrice = math.Min(trend.MinPrice, price)
		trend.MaxPrice = math.Max(trend.MaxPrice, price)
	}
	if trend.FirstPrice > 0 {
		trend.ChangePercent = round2((trend.LastPrice - trend.FirstPrice) / trend.FirstPrice * 100)
	}
	return trend, nil
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
