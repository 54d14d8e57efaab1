// Package ingest moves scraped carpark records from the scrape pipeline into
// the location store, either directly or through a Kafka topic.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/storage"
)

var ErrInvalidRecord = errors.New("invalid scraped record")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields a record needs before it can be reconciled.
func Validate(rec models.ScrapedRecord) error {
	if err := validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.Location.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	if rec.Location.Loc == (models.Coord{}) {
		return fmt.Errorf("%w: missing coordinates", ErrInvalidRecord)
	}
	return nil
}

type Upserter interface {
	Upsert(ctx context.Context, ds []reconcile.Directive) ([]models.ParkingLocation, error)
}

// Ingester merges scraped records into the store. A record within the merge
// distance of a stored location updates it and replaces its pricing;
// otherwise a new scraped location is created.
type Ingester struct {
	Store    storage.LocationStore
	Engine   *reconcile.Engine
	Upserter Upserter
	Logger   *slog.Logger
}

func (i *Ingester) Ingest(ctx context.Context, rec models.ScrapedRecord) (models.ParkingLocation, error) {
	if err := Validate(rec); err != nil {
		return models.ParkingLocation{}, err
	}
	existing, err := i.Store.FindNear(ctx, rec.Location.Loc, i.Engine.MergeDistance)
	if err != nil {
		return models.ParkingLocation{}, fmt.Errorf("find locations near %s: %w", rec.Location.Loc, err)
	}
	d := i.Engine.ReconcileScraped(rec, existing)
	if _, err := i.Upserter.Upsert(ctx, []reconcile.Directive{d}); err != nil {
		return models.ParkingLocation{}, err
	}
	i.logger().Info("scraped_record_ingested", "location_id", d.Location.ID, "action", d.Action.String(), "source_url", rec.SourceURL)
	return d.Location, nil
}

// Emit lets an Ingester serve as a scrape sink.
func (i *Ingester) Emit(ctx context.Context, rec models.ScrapedRecord) error {
	_, err := i.Ingest(ctx, rec)
	return err
}

func (i *Ingester) logger() *slog.Logger {
	if i.Logger == nil {
		return slog.Default()
	}
	return i.Logger
}
