package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/example/parking-prices/internal/logging"
	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/observability"
	"github.com/example/parking-prices/internal/reconcile"
)

// Upserter writes reconciled directives. Distinct locations are written
// concurrently; each location is written at most once per call.
type Upserter struct {
	Store       LocationStore
	Concurrency int
	Logger      *slog.Logger
}

// Upsert applies ds and returns the persisted locations in directive order.
// A failed write does not stop the others; failures are logged per record and
// returned joined. A create that collides with a row stored by a concurrent
// pass (ErrDuplicate) is logged and skipped, not reported as a failure.
func (u *Upserter) Upsert(ctx context.Context, ds []reconcile.Directive) ([]models.ParkingLocation, error) {
	ds = reconcile.Dedup(ds)
	limit := u.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
		ok   = make([]bool, len(ds))
	)
	g.SetLimit(limit)
	log := u.logger(ctx)
	for i, d := range ds {
		g.Go(func() error {
			err := u.apply(ctx, d)
			if d.Action == reconcile.ActionCreate && errors.Is(err, ErrDuplicate) {
				observability.DirectivesTotal.WithLabelValues("duplicate").Inc()
				log.Warn("upsert_duplicate_skipped", "location_id", d.Location.ID, "provider_id", d.Location.ProviderID)
				return nil
			}
			if err != nil {
				observability.UpsertErrorsTotal.Inc()
				log.Error("upsert_failed", "location_id", d.Location.ID, "action", d.Action.String(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s location %s: %w", d.Action, d.Location.ID, err))
				mu.Unlock()
				return nil
			}
			ok[i] = true
			observability.DirectivesTotal.WithLabelValues(d.Action.String()).Inc()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.ParkingLocation, 0, len(ds))
	for i, d := range ds {
		if ok[i] {
			out = append(out, d.Location)
		}
	}
	return out, errors.Join(errs...)
}

func (u *Upserter) apply(ctx context.Context, d reconcile.Directive) error {
	if d.PriceInfo != nil {
		if err := u.Store.SavePriceInfo(ctx, *d.PriceInfo); err != nil {
			return fmt.Errorf("save price info %s: %w", d.PriceInfo.ID, err)
		}
	}
	switch d.Action {
	case reconcile.ActionUpdate:
		err := u.Store.Update(ctx, d.Location)
		if errors.Is(err, ErrNotFound) {
			// removed between read and write
			return u.Store.Insert(ctx, d.Location)
		}
		return err
	case reconcile.ActionCreate:
		return u.Store.Insert(ctx, d.Location)
	default:
		return fmt.Errorf("unknown action %d", d.Action)
	}
}

func (u *Upserter) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, u.Logger)
}
