package services

import (
	"context"
	"strings"

	"pricewatch/storage"
	"pricewatch/utils"
)

// DefaultCanonicalThreshold is the minimum similarity for two identities to merge.
const DefaultCanonicalThreshold = 0.88

// Canonicalizer maps a freshly normalised identity onto a near-duplicate identity
// that is already stored, so one physical product keeps one identity across sites.
//
// Matching is greedy and not transitive; the reprocess sweep re-converges drift.
type Canonicalizer struct {
	threshold float64
	limit     int
	logger    *utils.Logger
}

func NewCanonicalizer(threshold float64, limit int, logger *utils.Logger) *Canonicalizer {
	if threshold <= 0 {
		threshold = DefaultCanonicalThreshold
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Canonicalizer{threshold: threshold, limit: limit, logger: logger}
}

// Canonicalize returns the best-scoring existing identity when its similarity reaches
// the threshold, and identity itself otherwise. website and category narrow the
// candidate pool when non-nil.
func (c *Canonicalizer) Canonicalize(ctx context.Context, repo storage.Repository, identity string, website, category *string) (string, error) {
	if identity == "" {
		return identity, nil
	}

	candidates, err := repo.DistinctIdentities(ctx, storage.IdentityFilter{
		Website:  website,
		Category: category,
		Limit:    c.limit,
	})
	if err != nil {
		return identity, err
	}

	best, score := BestMatch(identity, candidates)
	if best == "" || best == identity || score < c.threshold {
		return identity, nil
	}

	c.logger.Debug("canonicalize: %q -> %q (%.2f)", identity, best, score)
	return best, nil
}

// BestMatch returns the candidate most similar to identity. An exact match wins
// outright; equal scores prefer the shorter candidate, then the lexically smaller one.
func BestMatch(identity string, candidates []string) (string, float64) {
	var (
		best      string
		bestScore = -1.0
	)
	for _, cand := range candidates {
		if cand == identity {
			return cand, 1
		}
		score := TokenJaccard(identity, cand)
		switch {
		case score > bestScore:
		case score == bestScore && len(cand) < len(best):
		case score == bestScore && len(cand) == len(best) && cand < best:
		default:
			continue
		}
		best, bestScore = cand, score
	}
	if bestScore < 0 {
		return "", 0
	}
	return best, bestScore
}

// TokenJaccard is |A∩B| / |A∪B| over the whitespace-separated token sets of a and b.
// Two empty strings are identical; one empty string matches nothing.
func TokenJaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
