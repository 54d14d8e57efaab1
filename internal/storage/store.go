package storage

import (
	"context"
	"errors"

	"github.com/example/parking-prices/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate id")
)

// LocationStore defines persistence operations for parking locations and
// their price info.
type LocationStore interface {
	// FindNear returns locations within radius meters of c, nearest first.
	FindNear(ctx context.Context, c models.Coord, radius float64) ([]models.ParkingLocation, error)
	FindByID(ctx context.Context, id string) (models.ParkingLocation, error)
	Insert(ctx context.Context, loc models.ParkingLocation) error
	Update(ctx context.Context, loc models.ParkingLocation) error

	PriceInfo(ctx context.Context, id string) (models.PriceInfo, error)
	// SavePriceInfo inserts p or replaces the stored record with the same id.
	SavePriceInfo(ctx context.Context, p models.PriceInfo) error
}
