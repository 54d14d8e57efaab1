package storage

import (
	"context"
	"sync"

	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/models"
)

type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]models.ParkingLocation
	prices    map[string]models.PriceInfo
	index     *geo.MemIndex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]models.ParkingLocation),
		prices:    make(map[string]models.PriceInfo),
		index:     geo.NewMemIndex(),
	}
}

func (m *MemoryStore) FindNear(ctx context.Context, c models.Coord, radius float64) ([]models.ParkingLocation, error) {
	hits, err := m.index.Within(ctx, c, radius)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ParkingLocation, 0, len(hits))
	for _, h := range hits {
		if loc, ok := m.locations[h.ID]; ok {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (models.ParkingLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	if !ok {
		return models.ParkingLocation{}, ErrNotFound
	}
	return loc, nil
}

func (m *MemoryStore) Insert(ctx context.Context, loc models.ParkingLocation) error {
	m.mu.Lock()
	if _, ok := m.locations[loc.ID]; ok {
		m.mu.Unlock()
		return ErrDuplicate
	}
	m.locations[loc.ID] = loc
	m.mu.Unlock()
	return m.index.Add(ctx, loc.ID, loc.Loc)
}

func (m *MemoryStore) Update(ctx context.Context, loc models.ParkingLocation) error {
	m.mu.Lock()
	if _, ok := m.locations[loc.ID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.locations[loc.ID] = loc
	m.mu.Unlock()
	return m.index.Add(ctx, loc.ID, loc.Loc)
}

func (m *MemoryStore) PriceInfo(_ context.Context, id string) (models.PriceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[id]
	if !ok {
		return models.PriceInfo{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) SavePriceInfo(_ context.Context, p models.PriceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[p.ID] = p
	return nil
}

// Len reports the number of stored locations.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locations)
}
