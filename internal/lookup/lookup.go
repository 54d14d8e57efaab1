// Package lookup answers "what parking is near here" queries. It refreshes
// uncovered areas from the places provider, reconciles the results into the
// store and resolves the price tier for an optional stay length.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/observability"
	"github.com/example/parking-prices/internal/pricing"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/storage"
)

const (
	DefaultRadius = 500.0
	MaxRadius     = 50000.0
)

var ErrInvalidQuery = errors.New("invalid query")

// QueryError is a client input problem; callers map it to a 4xx status.
type QueryError struct {
	Field  string
	Reason string
}

func (e *QueryError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

func (e *QueryError) Unwrap() error { return ErrInvalidQuery }

type Coverage interface {
	Find(ctx context.Context, c models.Coord, radius float64) (models.CoverageRegion, bool, error)
}

type Fetcher interface {
	FetchCandidates(ctx context.Context, c models.Coord, radius float64) ([]models.RawCandidate, string)
}

type Upserter interface {
	Upsert(ctx context.Context, ds []reconcile.Directive) ([]models.ParkingLocation, error)
}

// Notifier receives every batch of persisted locations.
type Notifier interface {
	Publish(locs []models.ParkingLocation)
}

type Query struct {
	Loc    models.Coord
	Radius float64 // meters; zero means DefaultRadius
	Hours  int     // requested stay; zero disables price filtering
}

type Service struct {
	Coverage      Coverage
	Places        Fetcher
	Store         storage.LocationStore
	Engine        *reconcile.Engine
	Upserter      Upserter
	Notifier      Notifier
	DefaultRadius float64
	MaxRadius     float64
	Logger        *slog.Logger

	refreshes singleflight.Group
}

// Normalize validates q and fills in defaults.
func (s *Service) Normalize(q Query) (Query, error) {
	if !q.Loc.Valid() {
		return q, &QueryError{Field: "coordinates", Reason: "latitude must be in [-90,90] and longitude in [-180,180]"}
	}
	maxRadius := s.MaxRadius
	if maxRadius <= 0 {
		maxRadius = MaxRadius
	}
	switch {
	case q.Radius == 0:
		q.Radius = s.DefaultRadius
		if q.Radius <= 0 {
			q.Radius = DefaultRadius
		}
	case math.IsNaN(q.Radius) || q.Radius < 0 || q.Radius > maxRadius:
		return q, &QueryError{Field: "radius", Reason: fmt.Sprintf("must be in (0,%g] meters", maxRadius)}
	}
	if q.Hours < 0 {
		return q, &QueryError{Field: "hours", Reason: "must be a positive number of hours"}
	}
	return q, nil
}

// Lookup returns stored locations around q.Loc nearest first, refreshing the
// area from the places provider when no coverage region is within q.Radius.
// When q.Hours is set, locations without a covering price tier are dropped.
func (s *Service) Lookup(ctx context.Context, q Query) ([]models.LocationSummary, error) {
	start := time.Now()
	defer func() { observability.LookupLatency.Observe(time.Since(start).Seconds()) }()

	q, err := s.Normalize(q)
	if err != nil {
		return nil, err
	}

	_, covered, err := s.Coverage.Find(ctx, q.Loc, q.Radius)
	switch {
	case err != nil:
		// without a coverage answer the refresh could not be recorded either
		observability.LookupsTotal.WithLabelValues("error").Inc()
		s.logger(ctx).Warn("coverage_lookup_failed", "coord", q.Loc.String(), "error", err)
	case covered:
		observability.LookupsTotal.WithLabelValues("hit").Inc()
	default:
		observability.LookupsTotal.WithLabelValues("miss").Inc()
		if err := s.refresh(ctx, q); err != nil {
			return nil, err
		}
	}

	locs, err := s.Store.FindNear(ctx, q.Loc, q.Radius)
	if err != nil {
		return nil, fmt.Errorf("find locations near %s: %w", q.Loc, err)
	}
	out := make([]models.LocationSummary, 0, len(locs))
	for _, l := range locs {
		sum := models.LocationSummary{
			Type:      l.Type,
			Name:      l.Name,
			Rating:    l.Rating,
			Address:   l.Address,
			ID:        l.ID,
			Loc:       l.Loc,
			DistanceM: geo.Distance(q.Loc, l.Loc),
		}
		if q.Hours > 0 {
			tier, ok, err := s.matchingPrice(ctx, l, q.Hours)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			sum.MatchingPrice = &tier
		}
		out = append(out, sum)
	}
	return out, nil
}

// refresh pulls candidates for an uncovered area and persists the reconciled
// set. Concurrent refreshes of the same rounded coordinate share one call, and
// a caller that missed coverage just before another refresh finished finds
// the area covered on entry and skips the provider.
func (s *Service) refresh(ctx context.Context, q Query) error {
	key := fmt.Sprintf("%s/%g", geo.Round(q.Loc, geo.CoveragePrecision), q.Radius)
	ch := s.refreshes.DoChan(key, func() (any, error) {
		// shared by every waiter, so one caller going away must not cancel it
		ctx := context.WithoutCancel(ctx)
		if _, covered, err := s.Coverage.Find(ctx, q.Loc, q.Radius); err == nil && covered {
			return nil, nil
		}
		cands, correlationID := s.Places.FetchCandidates(ctx, q.Loc, q.Radius)
		if len(cands) == 0 {
			return nil, nil
		}
		existing, err := s.Store.FindNear(ctx, q.Loc, q.Radius+s.Engine.MergeDistance)
		if err != nil {
			return nil, fmt.Errorf("load existing locations: %w", err)
		}
		ds := s.Engine.Reconcile(cands, correlationID, existing)
		persisted, err := s.Upserter.Upsert(ctx, ds)
		if len(persisted) > 0 && s.Notifier != nil {
			s.Notifier.Publish(persisted)
		}
		s.logger(ctx).Info("area_refreshed", "coord", q.Loc.String(), "correlation_id", correlationID,
			"candidates", len(cands), "directives", len(ds), "persisted", len(persisted))
		if err != nil {
			return nil, fmt.Errorf("persist reconciled locations: %w", err)
		}
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) matchingPrice(ctx context.Context, l models.ParkingLocation, hours int) (models.Tier, bool, error) {
	if l.PriceInfoID == "" {
		return models.Tier{}, false, nil
	}
	info, err := s.Store.PriceInfo(ctx, l.PriceInfoID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger(ctx).Warn("price_info_missing", "location_id", l.ID, "price_info_id", l.PriceInfoID)
		return models.Tier{}, false, nil
	}
	if err != nil {
		return models.Tier{}, false, fmt.Errorf("load price info %s: %w", l.PriceInfoID, err)
	}
	tier, ok := pricing.ResolveTier(info.Tiers, hours)
	return tier, ok, nil
}

// Contribute stores a user-submitted location with optional price info.
func (s *Service) Contribute(ctx context.Context, loc models.ParkingLocation, price *models.PriceInfo) (models.ParkingLocation, error) {
	if !loc.Loc.Valid() {
		return models.ParkingLocation{}, &QueryError{Field: "loc", Reason: "coordinates out of range"}
	}
	if price != nil {
		pricing.SortTiers(price.Tiers)
	}
	d := s.Engine.Contribution(loc, price)
	persisted, err := s.Upserter.Upsert(ctx, []reconcile.Directive{d})
	if err != nil {
		return models.ParkingLocation{}, err
	}
	if s.Notifier != nil {
		s.Notifier.Publish(persisted)
	}
	s.logger(ctx).Info("location_contributed", "location_id", d.Location.ID, "coord", d.Location.Loc.String(), "priced", price != nil)
	return d.Location, nil
}

// logger prefers the request-scoped logger carried by ctx.
func (s *Service) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.Logger)
}
