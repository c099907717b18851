package services

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/storage"
	"pricewatch/utils"
)

// MaintenanceService holds operator cleanup and export tasks.
type MaintenanceService struct {
	db     storage.TxRunner
	now    func() time.Time
	logger *utils.Logger
}

func NewMaintenanceService(db storage.TxRunner, logger *utils.Logger) *MaintenanceService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &MaintenanceService{db: db, now: time.Now, logger: logger}
}

// CleanupStale deletes a website's products not scraped within olderThan, with their
// daily, snapshot and history rows. It returns the number of products removed.
func (s *MaintenanceService) CleanupStale(ctx context.Context, website string, olderThan time.Duration) (int, error) {
	if website == "" {
		return 0, eris.New("cleanup: website is required")
	}
	if olderThan <= 0 {
		return 0, eris.New("cleanup: age must be positive")
	}
	cutoff := s.now().Add(-olderThan).UTC()

	deleted := 0
	err := s.db.InTx(ctx, func(repo storage.Repository) error {
		deleted = 0
		stale, err := repo.ListProducts(ctx, storage.ProductFilter{Website: &website, ScrapedBefore: &cutoff})
		if err != nil {
			return eris.Wrap(err, "cleanup: list stale products")
		}
		for _, p := range stale {
			if err := repo.DeleteProduct(ctx, p.ID); err != nil {
				return eris.Wrapf(err, "cleanup: delete product %d", p.ID)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("[cleanup] Removed %d products from %s not seen since %s", deleted, website, cutoff.Format(time.RFC3339))
	return deleted, nil
}

// ExportHistory writes price history recorded since the given time for every product of
// website (all websites when nil). It returns the number of points written.
func (s *MaintenanceService) ExportHistory(ctx context.Context, website *string, since time.Time, w storage.HistoryWriter) (int, error) {
	written := 0
	err := s.db.InTx(ctx, func(repo storage.Repository) error {
		written = 0
		products, err := repo.ListProducts(ctx, storage.ProductFilter{Website: website})
		if err != nil {
			return eris.Wrap(err, "export: list products")
		}
		for i := range products {
			p := &products[i]
			points, err := repo.ListPriceHistory(ctx, storage.HistoryFilter{ProductID: p.ID, Since: since})
			if err != nil {
				return eris.Wrapf(err, "export: history for product %d", p.ID)
			}
			if len(points) == 0 {
				continue
			}
			if err := w.WriteHistory(p, points); err != nil {
				return eris.Wrapf(err, "export: write product %d", p.ID)
			}
			written += len(points)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("[export] Wrote %d price points", written)
	return written, nil
}
