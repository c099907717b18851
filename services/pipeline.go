package services

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// DayLayout is the format of CompetitorProductDaily.Day.
const DayLayout = "2006-01-02"

// Observation is one scraped row, already parsed: Price is in minor units and
// ProductLink is a stable key without query or fragment.
type Observation struct {
	Website     string
	ProductLink string
	RawName     string
	Price       int64
	StockStatus string
	StockAmount *int
}

// Pipeline classifies scraped observations and writes them to the three storage tiers.
// It never commits: callers pass the repository (usually a transaction) they own.
type Pipeline struct {
	normalizer    *Normalizer
	canonicalizer *Canonicalizer
	overrides     *OverrideResolver
	loc           *time.Location
	now           func() time.Time
	logger        *utils.Logger
}

func NewPipeline(n *Normalizer, c *Canonicalizer, o *OverrideResolver, loc *time.Location, logger *utils.Logger) *Pipeline {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Pipeline{
		normalizer:    n,
		canonicalizer: c,
		overrides:     o,
		loc:           loc,
		now:           time.Now,
		logger:        logger,
	}
}

// WithClock returns a copy of p that reads the current time from now.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	cp := *p
	cp.now = now
	return &cp
}

// Today is the current day in the reference timezone.
func (p *Pipeline) Today() string {
	return DayOf(p.now(), p.loc)
}

// DayOf formats t as a Daily key in loc.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// Resolved is the outcome of classification for one raw name.
type Resolved struct {
	RawName        string
	NormalizedName *string
	models.Classification
}

// Resolve runs detection, normalisation, canonicalisation and override resolution
// for rawName as seen on website.
func (p *Pipeline) Resolve(ctx context.Context, repo storage.Repository, website, rawName string) (Resolved, error) {
	rawName = strings.TrimSpace(rawName)
	if rawName == "" || rawName == models.UnknownName {
		placeholder := models.UnknownName
		return Resolved{
			RawName:        models.UnknownName,
			NormalizedName: &placeholder,
			Classification: models.Classification{Language: DefaultLanguage},
		}, nil
	}

	res := Resolved{RawName: rawName, Classification: p.normalizer.Classify(rawName)}

	identity := p.normalizer.NormalizeName(rawName)
	if identity == "" {
		return res, nil
	}

	identity, err := p.canonicalizer.Canonicalize(ctx, repo, identity, nil, res.Category)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: canonicalize")
	}
	res.NormalizedName = &identity

	res.Classification, err = p.overrides.Resolve(ctx, repo, website, identity, res.Classification)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: resolve overrides")
	}
	return res, nil
}

// Upsert records one observation: the latest-state row is written only when something
// changed, today's Daily row is overwritten or created, and one Snapshot plus one
// PriceHistory row are always appended.
func (p *Pipeline) Upsert(ctx context.Context, repo storage.Repository, obs Observation) (*models.CompetitorProduct, error) {
	res, err := p.Resolve(ctx, repo, obs.Website, obs.RawName)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	product, err := repo.GetProductByLink(ctx, obs.Website, obs.ProductLink)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load product")
	}

	if product == nil {
		product = &models.CompetitorProduct{
			Website:     obs.Website,
			ProductLink: obs.ProductLink,
			FirstSeenAt: now,
		}
		applyObservation(product, res, obs)
		product.LastScrapedAt = now
		product.UpdatedAt = now
		if err := repo.InsertProduct(ctx, product); err != nil {
			return nil, eris.Wrap(err, "pipeline: insert product")
		}
		p.logger.Debug("[pipeline] new product %d %s %s", product.ID, obs.Website, obs.ProductLink)
	} else if applyObservation(product, res, obs) {
		product.LastScrapedAt = now
		product.UpdatedAt = now
		if err := repo.UpdateProduct(ctx, product); err != nil {
			return nil, eris.Wrap(err, "pipeline: update product")
		}
	}

	if err := p.upsertDaily(ctx, repo, product, now); err != nil {
		return nil, err
	}

	if err := repo.InsertSnapshot(ctx, &models.CompetitorProductSnapshot{
		ProductID:   product.ID,
		Price:       obs.Price,
		StockStatus: obs.StockStatus,
		StockAmount: obs.StockAmount,
		ScrapedAt:   now,
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: insert snapshot")
	}
	if err := repo.InsertPriceHistory(ctx, &models.CompetitorPriceHistory{
		ProductID:   product.ID,
		Price:       obs.Price,
		StockStatus: obs.StockStatus,
		StockAmount: obs.StockAmount,
		RecordedAt:  now,
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: insert price history")
	}
	return product, nil
}

func (p *Pipeline) upsertDaily(ctx context.Context, repo storage.Repository, product *models.CompetitorProduct, now time.Time) error {
	day := DayOf(now, p.loc)
	daily, err := repo.GetDaily(ctx, product.ID, day)
	if err != nil {
		return eris.Wrap(err, "pipeline: load daily")
	}
	if daily == nil {
		daily = &models.CompetitorProductDaily{ProductID: product.ID, Day: day}
		fillDaily(daily, product, now)
		return eris.Wrap(repo.InsertDaily(ctx, daily), "pipeline: insert daily")
	}
	fillDaily(daily, product, now)
	return eris.Wrap(repo.UpdateDaily(ctx, daily), "pipeline: update daily")
}

func fillDaily(d *models.CompetitorProductDaily, p *models.CompetitorProduct, now time.Time) {
	d.Price = p.Price
	d.StockStatus = p.StockStatus
	d.StockAmount = p.StockAmount
	d.ScrapedAt = now
}

// applyObservation copies observed and classified fields onto p and reports whether any differed.
func applyObservation(p *models.CompetitorProduct, res Resolved, obs Observation) bool {
	changed := false
	setString := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setOptional := func(dst **string, v *string) {
		if !equalStringPtr(*dst, v) {
			*dst = v
			changed = true
		}
	}

	setString(&p.RawName, res.RawName)
	setOptional(&p.NormalizedName, res.NormalizedName)
	setOptional(&p.Category, res.Category)
	setOptional(&p.Brand, res.Brand)
	setString(&p.Language, res.Language)
	setString(&p.StockStatus, obs.StockStatus)
	if p.Price != obs.Price {
		p.Price = obs.Price
		changed = true
	}
	if !equalIntPtr(p.StockAmount, obs.StockAmount) {
		p.StockAmount = obs.StockAmount
		changed = true
	}
	return changed
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
