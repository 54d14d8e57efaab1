// Package pricing picks the price tier that applies to a requested stay.
package pricing

import (
	"sort"

	"github.com/example/parking-prices/internal/models"
)

// ResolveTier returns the shortest numeric tier whose duration covers
// requestedHours. Equal durations resolve to the lower price. Named-rate
// tiers never match. The second result is false when nothing covers the
// request.
func ResolveTier(tiers []models.Tier, requestedHours int) (models.Tier, bool) {
	type cand struct {
		t     models.Tier
		hours int
	}
	cands := make([]cand, 0, len(tiers))
	for _, t := range tiers {
		h, ok := t.Duration.Hours()
		if !ok || h < requestedHours {
			continue
		}
		cands = append(cands, cand{t, h})
	}
	if len(cands) == 0 {
		return models.Tier{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hours != cands[j].hours {
			return cands[i].hours < cands[j].hours
		}
		return cands[i].t.Price < cands[j].t.Price
	})
	return cands[0].t, true
}

// SortTiers orders tiers ascending by duration with named rates last.
func SortTiers(tiers []models.Tier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		hi, oki := tiers[i].Duration.Hours()
		hj, okj := tiers[j].Duration.Hours()
		if oki != okj {
			return oki
		}
		return hi < hj
	})
}
