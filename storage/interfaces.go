package storage

import (
	"context"
	"time"

	"pricewatch/models"
)

// ProductFilter narrows ListProducts. Nil pointers do not filter.
type ProductFilter struct {
	Website        *string
	NormalizedName *string
	Category       *string
	Brand          *string
	// OnlyMissing keeps rows lacking an identity, category or brand.
	OnlyMissing   bool
	ScrapedBefore *time.Time
	Limit         int
}

// IdentityFilter narrows DistinctIdentities. Nil pointers do not filter.
type IdentityFilter struct {
	Website  *string
	Category *string
	Limit    int
}

// HistoryFilter selects price-history points for one product.
type HistoryFilter struct {
	ProductID int64
	Since     time.Time
}

// Repository is the persistence contract used by the services.
// Lookups that find nothing return (nil, nil).
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*models.CompetitorProduct, error)
	GetProductByLink(ctx context.Context, website, productLink string) (*models.CompetitorProduct, error)
	InsertProduct(ctx context.Context, p *models.CompetitorProduct) error
	UpdateProduct(ctx context.Context, p *models.CompetitorProduct) error
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context, f ProductFilter) ([]models.CompetitorProduct, error)
	DistinctIdentities(ctx context.Context, f IdentityFilter) ([]string, error)

	GetDaily(ctx context.Context, productID int64, day string) (*models.CompetitorProductDaily, error)
	LatestDaily(ctx context.Context, productID int64) (*models.CompetitorProductDaily, error)
	ListDaily(ctx context.Context, productID int64, sinceDay string) ([]models.CompetitorProductDaily, error)
	InsertDaily(ctx context.Context, d *models.CompetitorProductDaily) error
	UpdateDaily(ctx context.Context, d *models.CompetitorProductDaily) error

	InsertSnapshot(ctx context.Context, s *models.CompetitorProductSnapshot) error
	ListSnapshots(ctx context.Context, productID int64) ([]models.CompetitorProductSnapshot, error)
	InsertPriceHistory(ctx context.Context, h *models.CompetitorPriceHistory) error
	ListPriceHistory(ctx context.Context, f HistoryFilter) ([]models.CompetitorPriceHistory, error)

	FindOverrides(ctx context.Context, normalizedName string, category, website *string) ([]models.CompetitorProductOverride, error)
	InsertOverride(ctx context.Context, o *models.CompetitorProductOverride) error
	ListOverrides(ctx context.Context) ([]models.CompetitorProductOverride, error)
	DeleteOverride(ctx context.Context, id int64) error
}

// TxRunner runs fn inside one transaction: commit on nil, rollback otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Savepointer is implemented by repositories bound to a transaction that can roll back
// part of their work.
type Savepointer interface {
	WithSavepoint(ctx context.Context, name string, fn func(Repository) error) error
}

// HistoryWriter is the interface for exporting price history.
type HistoryWriter interface {
	WriteHistory(p *models.CompetitorProduct, points []models.CompetitorPriceHistory) error
	Close() error
}
