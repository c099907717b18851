package services

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"pricewatch/models"
)

// ReportService renders analytics results as terminal tables.
type ReportService struct {
	out io.Writer
}

func NewReportService(out io.Writer) *ReportService {
	return &ReportService{out: out}
}

func (s *ReportService) banner(title string) {
	sep := strings.Repeat("═", 54)
	fmt.Fprintf(s.out, "\n%s\n  %s\n%s\n", sep, title, sep)
}

func (s *ReportService) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(s.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func (s *ReportService) PriceStatistics(st *models.PriceStatistics) {
	s.banner("PRICE STATISTICS: " + st.NormalizedName)
	if st.CompetitorCount == 0 {
		fmt.Fprintln(s.out, "  No price data available")
		return
	}

	t := s.newTable()
	t.AppendHeader(table.Row{"Competitors", "Min", "Max", "Average", "Median"})
	t.AppendRow(table.Row{st.CompetitorCount, money(st.MinPrice), money(st.MaxPrice), money(st.AvgPrice), money(st.MedianPrice)})
	t.Render()

	w := s.newTable()
	w.AppendHeader(table.Row{"Website", "Price"})
	for _, site := range sortedKeys(st.PricesByWebsite) {
		w.AppendRow(table.Row{site, money(st.PricesByWebsite[site])})
	}
	w.Render()
}

func (s *ReportService) Availability(a *models.AvailabilityStatus) {
	s.banner("AVAILABILITY: " + a.NormalizedName)
	fmt.Fprintf(s.out, "  Competitors: %d | in stock: %d | out of stock: %d | known units: %d\n",
		a.TotalCompetitors, a.InStockCount, a.OutOfStockCount, a.TotalKnownUnits)

	t := s.newTable()
	t.AppendHeader(table.Row{"Website", "In stock", "Status", "Units", "Link"})
	for _, site := range sortedKeys(a.ByWebsite) {
		wa := a.ByWebsite[site]
		units := "?"
		if wa.StockAmount != nil {
			units = fmt.Sprint(*wa.StockAmount)
		}
		t.AppendRow(table.Row{site, yesNo(wa.InStock), wa.StockStatus, units, truncate(wa.ProductLink, 50)})
	}
	t.Render()
}

func (s *ReportService) Velocity(v *models.SalesVelocity) {
	s.banner(fmt.Sprintf("SALES VELOCITY: product %d (last %d days)", v.ProductID, v.DaysBack))
	if v.Status == models.VelocityInsufficientData {
		fmt.Fprintf(s.out, "  Insufficient data, current stock: %d\n", v.CurrentStock)
		return
	}

	sellout := "n/a"
	if v.DaysUntilSellout != nil {
		sellout = fmt.Sprintf("%.1f days", *v.DaysUntilSellout)
	}
	peak := "-"
	if v.PeakVelocity > 0 {
		peak = fmt.Sprintf("%d on %s at %s", v.PeakVelocity, v.PeakVelocityDay, v.PeakDayPriceText)
	}

	t := s.newTable()
	t.AppendRows([]table.Row{
		{"Tracked days", v.TrackedDays},
		{"Current stock", v.CurrentStock},
		{"Max observed stock", v.MaxObservedStock},
		{"Units sold", v.TotalSold},
		{"Units restocked", v.TotalRestocked},
		{"Restocks", v.TimesRestocked},
		{"Sell-outs", v.TimesSoldOut},
		{"Peak daily sales", peak},
		{"Avg daily sales", fmt.Sprintf("%.2f", v.AvgDailySales)},
		{"Weekly estimate", fmt.Sprintf("%.2f", v.WeeklyEstimate)},
		{"Until sell-out", sellout},
		{"Sell-through", fmt.Sprintf("%.2f%%", v.SellThroughRate)},
	})
	t.Render()
}

func (s *ReportService) Products(title string, products []models.CompetitorProduct) {
	s.banner(title)
	if len(products) == 0 {
		fmt.Fprintln(s.out, "  No products found")
		return
	}

	t := s.newTable()
	t.AppendHeader(table.Row{"ID", "Website", "Identity", "Brand", "Lang", "Price", "Stock"})
	for _, p := range products {
		t.AppendRow(table.Row{
			p.ID, p.Website, truncate(models.Deref(p.NormalizedName), 38), models.Deref(p.Brand), p.Language,
			FormatMinorUnits(p.Price), p.StockStatus,
		})
	}
	t.Render()
}

func (s *ReportService) Trend(tr *models.PriceTrend) {
	s.banner(fmt.Sprintf("PRICE TREND: product %d", tr.ProductID))
	if tr.Points == 0 {
		fmt.Fprintln(s.out, "  No price history")
		return
	}
	t := s.newTable()
	t.AppendHeader(table.Row{"Points", "First", "Last", "Min", "Max", "Change"})
	t.AppendRow(table.Row{tr.Points, money(tr.FirstPrice), money(tr.LastPrice), money(tr.MinPrice), money(tr.MaxPrice),
		fmt.Sprintf("%+.2f%%", tr.ChangePercent)})
	t.Render()
}

func (s *ReportService) Overrides(overrides []models.CompetitorProductOverride) {
	s.banner("OVERRIDES")
	if len(overrides) == 0 {
		fmt.Fprintln(s.out, "  No overrides")
		return
	}
	t := s.newTable()
	t.AppendHeader(table.Row{"ID", "Identity", "Category", "Website", "Set category", "Set brand", "Set lang", "Notes"})
	for _, o := range overrides {
		t.AppendRow(table.Row{
			o.ID, o.NormalizedName, orDash(o.Category), scopeLabel(o.Website),
			orDash(o.SetCategory), orDash(o.SetBrand), orDash(o.SetLanguage), truncate(o.Notes, 30),
		})
	}
	t.Render()
}

func (s *ReportService) Reprocess(r models.ReprocessResult) {
	s.banner("REPROCESS")
	fmt.Fprintf(s.out, "  Scanned: %d | updated: %d | deleted: %d\n", r.Scanned, r.Updated, r.Deleted)
}

func (s *ReportService) Ingest(r models.IngestReport) {
	s.banner("INGEST")
	t := s.newTable()
	t.AppendHeader(table.Row{"Websites", "Items", "Upserted", "Failed", "Skipped", "Batches"})
	t.AppendRow(table.Row{r.Websites, r.Items, r.Upserted, r.Failed, r.Skipped, r.Batches})
	t.Render()
}

// money renders a major-unit amount the same way FormatMinorUnits does.
func money(major float64) string {
	return FormatMinorUnits(int64(math.Round(major * 100)))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
