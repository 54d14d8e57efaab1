package places

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/observability"
)

type Searcher interface {
	SearchNearby(ctx context.Context, center models.Coord, radius float64) ([]models.RawCandidate, error)
}

type CoverageRecorder interface {
	Record(ctx context.Context, c models.Coord, id string) (models.CoverageRegion, error)
}

// Adapter fetches candidates from the provider and marks the queried area as
// covered. It never fails: provider errors degrade to an empty result.
type Adapter struct {
	Search   Searcher
	Coverage CoverageRecorder
	Timeout  time.Duration
	Logger   *slog.Logger
}

// FetchCandidates returns the provider's candidates around c and the
// correlation id of the coverage region they were discovered under.
func (a *Adapter) FetchCandidates(ctx context.Context, c models.Coord, radius float64) ([]models.RawCandidate, string) {
	correlationID := uuid.NewString()
	log := logging.FromContext(ctx, a.Logger).With("correlation_id", correlationID, "coord", c.String())

	searchCtx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	start := time.Now()
	cands, err := a.Search.SearchNearby(searchCtx, c, radius)
	observability.PlacesLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, ErrInvalidCandidate) {
			observability.PlacesRequestsTotal.WithLabelValues("error").Inc()
			log.Warn("places_fetch_failed", "error", err)
			return nil, correlationID
		}
		// some places were rejected, the rest are usable
		observability.PlacesInvalidTotal.Inc()
		log.Warn("places_candidates_rejected", "error", err, "accepted", len(cands))
	}
	observability.PlacesRequestsTotal.WithLabelValues("ok").Inc()

	region, err := a.Coverage.Record(ctx, c, correlationID)
	if err != nil {
		log.Error("coverage_record_failed", "error", err)
		return cands, correlationID
	}
	log.Debug("places_fetched", "candidates", len(cands), "region_id", region.ID)
	return cands, region.ID
}
