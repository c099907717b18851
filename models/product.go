package models

import "time"

// UnknownName is the placeholder used when a scraped item has no name.
const UnknownName = "(unknown)"

// ScrapedItem holds one unprocessed row as delivered by a scraper.
// RawPrice is kept as text; the ingest layer parses it into minor units.
type ScrapedItem struct {
	Website     string `csv:"website"`
	ProductLink string `csv:"product_link"`
	RawName     string `csv:"name"`
	RawPrice    string `csv:"price"`
	StockStatus string `csv:"stock_status"`
	StockAmount *int   `csv:"stock_amount,omitempty"`
}

// CompetitorProduct is the latest known state of one listing, unique per (Website, ProductLink).
type CompetitorProduct struct {
	ID             int64
	Website        string
	ProductLink    string
	RawName        string
	NormalizedName *string
	Category       *string
	Brand          *string
	Language       string
	Price          int64
	StockStatus    string
	StockAmount    *int
	FirstSeenAt    time.Time
	LastScrapedAt  time.Time
	UpdatedAt      time.Time
}

// CompetitorProductDaily is the most recent observation of a product on one calendar day.
// Day is formatted YYYY-MM-DD in the reference timezone.
type CompetitorProductDaily struct {
	ID          int64
	ProductID   int64
	Day         string
	Price       int64
	StockStatus string
	StockAmount *int
	ScrapedAt   time.Time
}

// CompetitorProductSnapshot records a single upsert call. Never updated.
type CompetitorProductSnapshot struct {
	ID          int64
	ProductID   int64
	Price       int64
	StockStatus string
	StockAmount *int
	ScrapedAt   time.Time
}

// CompetitorPriceHistory is one point of the append-only price/stock series.
type CompetitorPriceHistory struct {
	ID          int64
	ProductID   int64
	Price       int64
	StockStatus string
	StockAmount *int
	RecordedAt  time.Time
}

// CompetitorProductOverride is a manual classification correction.
// NormalizedName, Category and Website scope the override (nil Website = global);
// the Set* fields are the corrections, applied only when non-nil.
type CompetitorProductOverride struct {
	ID             int64
	NormalizedName string
	Category       *string
	Website        *string
	SetCategory    *string
	SetBrand       *string
	SetLanguage    *string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Classification is the brand/category/language triple attached to a product.
type Classification struct {
	Category *string
	Brand    *string
	Language string
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
