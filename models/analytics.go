package models

// PriceStatistics summarises current competitor prices for one identity, in major units.
type PriceStatistics struct {
	NormalizedName  string
	CompetitorCount int
	MinPrice        float64
	MaxPrice        float64
	AvgPrice        float64
	MedianPrice     float64
	PricesByWebsite map[string]float64
}

// WebsiteAvailability is the availability of one competitor listing.
type WebsiteAvailability struct {
	Website     string
	ProductLink string
	StockStatus string
	StockAmount *int
	InStock     bool
}

// AvailabilityStatus aggregates availability across competitors for one identity.
type AvailabilityStatus struct {
	NormalizedName   string
	TotalCompetitors int
	InStockCount     int
	OutOfStockCount  int
	TotalKnownUnits  int
	ByWebsite        map[string]WebsiteAvailability
}

// VelocityStatus tells whether a SalesVelocity could be computed.
type VelocityStatus string

const (
	VelocityOK               VelocityStatus = "ok"
	VelocityInsufficientData VelocityStatus = "insufficient_data"
)

// SalesVelocity is a heuristic sales estimate derived from day-to-day stock deltas.
type SalesVelocity struct {
	ProductID        int64
	Status           VelocityStatus
	DaysBack         int
	TrackedDays      int
	CurrentStock     int
	MaxObservedStock int
	TotalSold        int
	TotalRestocked   int
	TimesRestocked   int
	TimesSoldOut     int
	PeakVelocity     int
	PeakVelocityDay  string
	PeakDayPrice     float64
	PeakDayPriceText string
	AvgDailySales    float64
	WeeklyEstimate   float64
	DaysUntilSellout *float64
	SellThroughRate  float64
}

// PriceTrend compares the first and last price-history points in a window.
type PriceTrend struct {
	ProductID     int64
	Points        int
	FirstPrice    float64
	LastPrice     float64
	MinPrice      float64
	MaxPrice      float64
	ChangePercent float64
}

// ReprocessResult reports what a reclassification sweep did.
type ReprocessResult struct {
	Scanned int
	Updated int
	Deleted int
}

// IngestReport reports the outcome of one ingest run.
type IngestReport struct {
	Websites int
	Items    int
	Upserted int
	Failed   int
	Skipped  int
	Batches  int
}
