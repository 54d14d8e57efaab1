package pricing

import (
	"testing"

	"github.com/example/parking-prices/internal/models"
)

func tier(h int, price float64) models.Tier {
	return models.Tier{Duration: models.Hours(h), Price: price}
}

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name      string
		tiers     []models.Tier
		requested int
		wantHours int
		wantPrice float64
		wantOK    bool
	}{
		{
			name:      "picks the shortest covering tier",
			tiers:     []models.Tier{tier(2, 5), tier(4, 8), tier(8, 12)},
			requested: 3,
			wantHours: 4, wantPrice: 8, wantOK: true,
		},
		{
			name:      "nothing covers the request",
			tiers:     []models.Tier{tier(2, 5)},
			requested: 5,
			wantOK:    false,
		},
		{
			name:      "exact duration matches",
			tiers:     []models.Tier{tier(8, 12), tier(2, 5)},
			requested: 2,
			wantHours: 2, wantPrice: 5, wantOK: true,
		},
		{
			name:      "not the cheapest overall",
			tiers:     []models.Tier{tier(24, 3), tier(4, 9)},
			requested: 3,
			wantHours: 4, wantPrice: 9, wantOK: true,
		},
		{
			name:      "equal durations prefer the lower price",
			tiers:     []models.Tier{tier(4, 9), {Duration: models.Hours(4), Price: 7, AppOnly: true}},
			requested: 4,
			wantHours: 4, wantPrice: 7, wantOK: true,
		},
		{
			name:      "named rates are ignored",
			tiers:     []models.Tier{{Duration: models.NamedRate("Night rate"), Price: 1}, tier(1, 3)},
			requested: 2,
			wantOK:    false,
		},
		{
			name:      "empty tiers",
			requested: 1,
			wantOK:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveTier(tt.tiers, tt.requested)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			h, _ := got.Duration.Hours()
			if h != tt.wantHours || got.Price != tt.wantPrice {
				t.Fatalf("got %dh/%v, want %dh/%v", h, got.Price, tt.wantHours, tt.wantPrice)
			}
		})
	}
}

func TestResolveTierSmallestCovering(t *testing.T) {
	tiers := []models.Tier{tier(1, 2), tier(3, 4), tier(6, 7), tier(12, 10), tier(24, 15)}
	for req := 0; req <= 30; req++ {
		got, ok := ResolveTier(tiers, req)
		var want int
		found := false
		for _, tr := range tiers {
			h, _ := tr.Duration.Hours()
			if h >= req && (!found || h < want) {
				want, found = h, true
			}
		}
		if ok != found {
			t.Fatalf("req=%d ok=%v want %v", req, ok, found)
		}
		if ok {
			if h, _ := got.Duration.Hours(); h != want {
				t.Fatalf("req=%d got %d want %d", req, h, want)
			}
		}
	}
}

func TestSortTiers(t *testing.T) {
	tiers := []models.Tier{{Duration: models.NamedRate("Night")}, tier(8, 1), tier(2, 1)}
	SortTiers(tiers)
	if h, _ := tiers[0].Duration.Hours(); h != 2 {
		t.Fatalf("first tier = %v", tiers[0].Duration)
	}
	if tiers[2].Duration.Label() != "Night" {
		t.Fatalf("named rate not last: %v", tiers[2].Duration)
	}
}
