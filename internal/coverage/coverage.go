// Package coverage remembers which areas have already been resolved
// against the places provider so repeated nearby queries skip it.
// Regions are append-only and never expire.
package coverage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/models"
)

// sameKey is the distance under which two rounded coordinates are the same key.
const sameKey = 1.0

type Store struct {
	index geo.Index
}

func NewStore(index geo.Index) *Store {
	return &Store{index: index}
}

// Find returns the nearest recorded region within radius meters of c. Regions
// are stored at the floored key, which can sit ~15 m from the point that was
// queried, so a region at c's own key also counts whatever the radius.
func (s *Store) Find(ctx context.Context, c models.Coord, radius float64) (models.CoverageRegion, bool, error) {
	hits, err := s.index.Within(ctx, c, radius)
	if err != nil {
		return models.CoverageRegion{}, false, fmt.Errorf("find coverage near %s: %w", c, err)
	}
	if len(hits) == 0 {
		key := geo.Round(c, geo.CoveragePrecision)
		if hits, err = s.index.Within(ctx, key, sameKey); err != nil {
			return models.CoverageRegion{}, false, fmt.Errorf("find coverage at %s: %w", key, err)
		}
	}
	if len(hits) == 0 {
		return models.CoverageRegion{}, false, nil
	}
	return models.CoverageRegion{ID: hits[0].ID, Coord: hits[0].Loc}, true, nil
}

// Record stores a region keyed by c rounded to geo.CoveragePrecision. If a
// region already exists at that key it is returned unchanged. An empty id
// gets a fresh one.
func (s *Store) Record(ctx context.Context, c models.Coord, id string) (models.CoverageRegion, error) {
	key := geo.Round(c, geo.CoveragePrecision)
	hits, err := s.index.Within(ctx, key, sameKey)
	if err != nil {
		return models.CoverageRegion{}, fmt.Errorf("record coverage at %s: %w", key, err)
	}
	if len(hits) > 0 {
		return models.CoverageRegion{ID: hits[0].ID, Coord: hits[0].Loc}, nil
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.index.Add(ctx, id, key); err != nil {
		return models.CoverageRegion{}, fmt.Errorf("record coverage at %s: %w", key, err)
	}
	return models.CoverageRegion{ID: id, Coord: key}, nil
}
