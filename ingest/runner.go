package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pricewatch/models"
	"pricewatch/services"
	"pricewatch/storage"
	"pricewatch/utils"
)

// Runner feeds scraped rows through the upsert pipeline. Each website is handled by its
// own goroutine and every batch of rows is committed in its own transaction, so a
// failure loses at most one batch. Each row runs in a savepoint: a failing row leaves
// nothing behind and does not disturb the rest of its batch.
type Runner struct {
	db          storage.TxRunner
	pipeline    *services.Pipeline
	batchSize   int
	concurrency int
	logger      *utils.Logger
}

func NewRunner(db storage.TxRunner, pipeline *services.Pipeline, batchSize, concurrency int, logger *utils.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 50
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Runner{db: db, pipeline: pipeline, batchSize: batchSize, concurrency: concurrency, logger: logger}
}

type counters struct {
	upserted atomic.Int64
	failed   atomic.Int64
	batches  atomic.Int64
}

// Run ingests items. Rows without a website or link, and repeated (website, link) pairs,
// are skipped. Item failures are logged and counted; only cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, items []models.ScrapedItem) (models.IngestReport, error) {
	log := r.logger.With("run_id", uuid.NewString())
	start := time.Now()
	report := models.IngestReport{Items: len(items)}

	seen := utils.NewKeySet()
	bySite := make(map[string][]services.Observation)
	for _, it := range items {
		website := strings.ToLower(strings.TrimSpace(it.Website))
		link := NormalizeLink(it.ProductLink)
		if website == "" || link == "" {
			report.Skipped++
			continue
		}
		if !seen.Add(website + "|" + link) {
			report.Skipped++
			continue
		}
		bySite[website] = append(bySite[website], services.Observation{
			Website:     website,
			ProductLink: link,
			RawName:     it.RawName,
			Price:       services.ParsePrice(it.RawPrice),
			StockStatus: strings.TrimSpace(it.StockStatus),
			StockAmount: it.StockAmount,
		})
	}
	report.Websites = len(bySite)

	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	log.Info("[ingest] Starting run: %d items across %d websites (batch %d, concurrency %d)",
		len(items), len(sites), r.batchSize, r.concurrency)

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, site := range sites {
		obs := bySite[site]
		g.Go(func() error {
			return r.runSite(gctx, log.With("website", site), obs, &c)
		})
	}
	err := g.Wait()

	report.Upserted = int(c.upserted.Load())
	report.Failed = int(c.failed.Load())
	report.Batches = int(c.batches.Load())
	log.Info("[ingest] Run complete: upserted %d | failed %d | skipped %d | batches %d (%s)",
		report.Upserted, report.Failed, report.Skipped, report.Batches, time.Since(start).Round(time.Millisecond))
	return report, err
}

func (r *Runner) runSite(ctx context.Context, log *utils.Logger, obs []services.Observation, c *counters) error {
	for start := 0; start < len(obs); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+r.batchSize, len(obs))
		batch := obs[start:end]

		var ok, bad int64
		err := r.db.InTx(ctx, func(repo storage.Repository) error {
			ok, bad = 0, 0
			for _, o := range batch {
				err := storage.Isolate(ctx, repo, "ingest_item", func(item storage.Repository) error {
					_, err := r.pipeline.Upsert(ctx, item, o)
					return err
				})
				if errors.Is(err, storage.ErrSavepoint) {
					return err
				}
				if err != nil {
					log.Error("[ingest] Item failed %s: %v", o.ProductLink, err)
					bad++
					continue
				}
				ok++
			}
			return nil
		})
		c.batches.Add(1)
		if err != nil {
			log.Error("[ingest] Batch %d-%d lost: %v", start, end, err)
			c.failed.Add(int64(len(batch)))
			continue
		}
		c.upserted.Add(ok)
		c.failed.Add(bad)
		log.Debug("[ingest] Committed batch %d-%d (%d ok, %d failed)", start, end, ok, bad)
	}
	return nil
}
