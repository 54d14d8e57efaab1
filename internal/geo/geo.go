package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/parking-prices/internal/models"
)

// Hit is an index member found near a query point.
type Hit struct {
	ID       string
	Loc      models.Coord
	Distance float64 // meters
}

// Index is the minimal point-radius index used by the coverage and location stores.
type Index interface {
	Add(ctx context.Context, id string, c models.Coord) error
	Within(ctx context.Context, c models.Coord, radius float64) ([]Hit, error)
}

type MemIndex struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewMemIndex() *MemIndex {
	return &MemIndex{points: make(map[string]models.Coord)}
}

func (g *MemIndex) Add(_ context.Context, id string, c models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = c
	return nil
}

// naive scan; fine for the volumes a single city produces
func (g *MemIndex) Within(_ context.Context, c models.Coord, radius float64) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Hit, 0)
	for id, p := range g.points {
		d := Distance(c, p)
		if d <= radius {
			out = append(out, Hit{ID: id, Loc: p, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID
		}
		return out[i].Distance < out[j].Distance
	})
	return out, nil
}

// EarthRadius is the spherical approximation used for every distance, in meters.
const EarthRadius = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// DistanceWithin reports whether a and b are at most rangeMeters apart.
// The result is symmetric in a and b.
func DistanceWithin(a, b models.Coord, rangeMeters float64) bool {
	if a == b {
		return rangeMeters >= 0
	}
	// order the operands so floating point rounding cannot break symmetry
	if b.Lat < a.Lat || (b.Lat == a.Lat && b.Lon < a.Lon) {
		a, b = b, a
	}
	return Distance(a, b) <= rangeMeters
}

// CoveragePrecision is the number of decimal places kept for coverage keys (~11 m).
const CoveragePrecision = 4

// Round truncates both axes towards negative infinity at the given number of decimals.
func Round(c models.Coord, decimals int) models.Coord {
	f := math.Pow(10, float64(decimals))
	return models.Coord{
		Lat: math.Floor(c.Lat*f) / f,
		Lon: math.Floor(c.Lon*f) / f,
	}
}
