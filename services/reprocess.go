package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// DefaultReprocessLimit bounds one reclassification sweep.
const DefaultReprocessLimit = 10000

// ReprocessOptions scopes a sweep. A nil Website sweeps every site.
type ReprocessOptions struct {
	Website          *string
	OnlyMissing      bool
	RemoveDenylisted bool
	Limit            int
}

// Reprocessor re-runs classification over stored products. A sweep runs in one
// transaction, so a failure part way leaves the database untouched.
type Reprocessor struct {
	db            storage.TxRunner
	pipeline      *Pipeline
	denylist      []string
	allowedBrands map[string]struct{}
	logger        *utils.Logger
}

func NewReprocessor(db storage.TxRunner, pipeline *Pipeline, denylist, allowedBrands []string, logger *utils.Logger) *Reprocessor {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	r := &Reprocessor{db: db, pipeline: pipeline, logger: logger}
	for _, term := range denylist {
		if t := pipeline.normalizer.Prepare(term); t != "" {
			r.denylist = append(r.denylist, t)
		}
	}
	if len(allowedBrands) > 0 {
		r.allowedBrands = make(map[string]struct{}, len(allowedBrands))
		for _, b := range allowedBrands {
			r.allowedBrands[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
		}
	}
	return r
}

func (r *Reprocessor) Run(ctx context.Context, opts ReprocessOptions) (models.ReprocessResult, error) {
	var result models.ReprocessResult
	if opts.Limit <= 0 {
		opts.Limit = DefaultReprocessLimit
	}
	log := r.logger.With("run_id", uuid.NewString())
	start := time.Now()

	err := r.db.InTx(ctx, func(repo storage.Repository) error {
		result = models.ReprocessResult{}
		products, err := repo.ListProducts(ctx, storage.ProductFilter{
			Website:     opts.Website,
			OnlyMissing: opts.OnlyMissing,
			Limit:       opts.Limit,
		})
		if err != nil {
			return eris.Wrap(err, "reprocess: list products")
		}

		for i := range products {
			p := &products[i]
			result.Scanned++

			if opts.RemoveDenylisted {
				if reason := r.rejectReason(p); reason != "" {
					if err := repo.DeleteProduct(ctx, p.ID); err != nil {
						return eris.Wrapf(err, "reprocess: delete product %d", p.ID)
					}
					log.Info("[reprocess] Deleted product %d (%s): %s", p.ID, reason, p.RawName)
					result.Deleted++
					continue
				}
			}

			res, err := r.pipeline.Resolve(ctx, repo, p.Website, p.RawName)
			if err != nil {
				return eris.Wrapf(err, "reprocess: classify product %d", p.ID)
			}
			if !reclassify(p, res) {
				continue
			}
			p.UpdatedAt = r.pipeline.now().UTC()
			if err := repo.UpdateProduct(ctx, p); err != nil {
				return eris.Wrapf(err, "reprocess: update product %d", p.ID)
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		log.Error("[reprocess] Sweep rolled back: %v", err)
		return models.ReprocessResult{}, err
	}

	log.Info("[reprocess] Scanned %d | updated %d | deleted %d (%s)",
		result.Scanned, result.Updated, result.Deleted, time.Since(start).Round(time.Millisecond))
	return result, nil
}

// rejectReason returns why p should be removed, or "" to keep it.
func (r *Reprocessor) rejectReason(p *models.CompetitorProduct) string {
	name := " " + r.pipeline.normalizer.Prepare(p.RawName) + " "
	for _, term := range r.denylist {
		if strings.Contains(name, " "+term+" ") {
			return "denylisted: " + term
		}
	}
	if r.allowedBrands == nil {
		return ""
	}
	brand := p.Brand
	if brand == nil {
		brand = r.pipeline.normalizer.DetectBrand(p.RawName)
	}
	if brand == nil {
		return "no brand"
	}
	if _, ok := r.allowedBrands[*brand]; !ok {
		return "brand not allowed: " + *brand
	}
	return ""
}

// reclassify copies the classification fields of res onto p and reports whether any changed.
func reclassify(p *models.CompetitorProduct, res Resolved) bool {
	changed := false
	if p.RawName != res.RawName {
		p.RawName = res.RawName
		changed = true
	}
	if !equalStringPtr(p.NormalizedName, res.NormalizedName) {
		p.NormalizedName = res.NormalizedName
		changed = true
	}
	if !equalStringPtr(p.Category, res.Category) {
		p.Category = res.Category
		changed = true
	}
	if !equalStringPtr(p.Brand, res.Brand) {
		p.Brand = res.Brand
		changed = true
	}
	if p.Language != res.Language {
		p.Language = res.Language
		changed = true
	}
	return changed
}
