package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// OverrideResolver layers operator corrections over automatic classification.
type OverrideResolver struct {
	logger *utils.Logger
	now    func() time.Time
}

func NewOverrideResolver(logger *utils.Logger) *OverrideResolver {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &OverrideResolver{logger: logger, now: time.Now}
}

// Resolve applies the newest global override for (identity, category) and then the
// newest override for the same key scoped to website. Site fields win on conflict;
// nil fields fall through. No matching override leaves c unchanged.
func (r *OverrideResolver) Resolve(ctx context.Context, repo storage.Repository, website, identity string, c models.Classification) (models.Classification, error) {
	if identity == "" {
		return c, nil
	}

	global, err := r.newest(ctx, repo, identity, c.Category, nil)
	if err != nil {
		return c, err
	}
	var site *models.CompetitorProductOverride
	if website != "" {
		site, err = r.newest(ctx, repo, identity, c.Category, &website)
		if err != nil {
			return c, err
		}
	}

	out := c
	for _, o := range []*models.CompetitorProductOverride{global, site} {
		if o == nil {
			continue
		}
		if o.SetCategory != nil {
			out.Category = o.SetCategory
		}
		if o.SetBrand != nil {
			out.Brand = o.SetBrand
		}
		if o.SetLanguage != nil {
			out.Language = *o.SetLanguage
		}
		r.logger.Debug("override %d applied to %q (website=%s)", o.ID, identity, models.Deref(o.Website))
	}
	return out, nil
}

func (r *OverrideResolver) newest(ctx context.Context, repo storage.Repository, identity string, category, website *string) (*models.CompetitorProductOverride, error) {
	rows, err := repo.FindOverrides(ctx, identity, category, website)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	return &rows[0], nil
}

// CreateOverride validates and stores a new override. At least one Set* field is required.
func (r *OverrideResolver) CreateOverride(ctx context.Context, repo storage.Repository, o *models.CompetitorProductOverride) error {
	o.NormalizedName = strings.TrimSpace(o.NormalizedName)
	if o.NormalizedName == "" {
		return eris.New("override: normalized name is required")
	}
	if o.SetCategory == nil && o.SetBrand == nil && o.SetLanguage == nil {
		return eris.New("override: nothing to set")
	}

	now := r.now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	if err := repo.InsertOverride(ctx, o); err != nil {
		return eris.Wrap(err, "override: create")
	}
	r.logger.Info("created override %d for %q (website=%s)", o.ID, o.NormalizedName, scopeLabel(o.Website))
	return nil
}

func (r *OverrideResolver) ListOverrides(ctx context.Context, repo storage.Repository) ([]models.CompetitorProductOverride, error) {
	return repo.ListOverrides(ctx)
}

func (r *OverrideResolver) DeleteOverride(ctx context.Context, repo storage.Repository, id int64) error {
	if err := repo.DeleteOverride(ctx, id); err != nil {
		return eris.Wrapf(err, "override: delete %d", id)
	}
	r.logger.Info("deleted override %d", id)
	return nil
}

func scopeLabel(website *string) string {
	if website == nil {
		return "global"
	}
	return *website
}
