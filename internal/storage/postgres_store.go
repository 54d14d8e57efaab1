package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/models"
)

const metersPerDegree = 111320.0

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const locationColumns = `id, source_type, provider_id, name, address, rating, lat, lon, price_info_id, coverage_id, created_at, updated_at`

// FindNear narrows by bounding box in SQL and applies the exact haversine
// cut in Go.
func (p *PostgresStore) FindNear(ctx context.Context, c models.Coord, radius float64) ([]models.ParkingLocation, error) {
	dLat := radius / metersPerDegree
	dLon := radius / (metersPerDegree * math.Max(math.Cos(c.Lat*math.Pi/180), 0.01))
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM parking_locations WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4`,
		c.Lat-dLat, c.Lat+dLat, c.Lon-dLon, c.Lon+dLon)
	if err != nil {
		return nil, fmt.Errorf("query locations near %s: %w", c, err)
	}
	defer rows.Close()

	type scored struct {
		loc  models.ParkingLocation
		dist float64
	}
	var found []scored
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		if d := geo.Distance(c, loc.Loc); d <= radius {
			found = append(found, scored{loc, d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	out := make([]models.ParkingLocation, 0, len(found))
	for _, f := range found {
		out = append(out, f.loc)
	}
	return out, nil
}

func (p *PostgresStore) FindByID(ctx context.Context, id string) (models.ParkingLocation, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+locationColumns+` FROM parking_locations WHERE id=$1`, id)
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParkingLocation{}, ErrNotFound
	}
	return loc, err
}

func (p *PostgresStore) Insert(ctx context.Context, l models.ParkingLocation) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO parking_locations(`+locationColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.ID, l.Type.String(), nullString(l.ProviderID), l.Name, l.Address, l.Rating, l.Loc.Lat, l.Loc.Lon,
		nullString(l.PriceInfoID), nullString(l.CoverageID), l.CreatedAt, l.UpdatedAt)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) Update(ctx context.Context, l models.ParkingLocation) error {
	updated := l.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	res, err := p.db.ExecContext(ctx, `UPDATE parking_locations SET provider_id=$1, name=$2, address=$3, rating=$4, lat=$5, lon=$6, price_info_id=$7, coverage_id=$8, updated_at=$9 WHERE id=$10`,
		nullString(l.ProviderID), l.Name, l.Address, l.Rating, l.Loc.Lat, l.Loc.Lon, nullString(l.PriceInfoID), nullString(l.CoverageID), updated, l.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) PriceInfo(ctx context.Context, id string) (models.PriceInfo, error) {
	var (
		info         models.PriceInfo
		tiers, hours []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, tiers, opening_hours, spaces, disabled_spaces FROM price_infos WHERE id=$1`, id).
		Scan(&info.ID, &tiers, &hours, &info.Spaces, &info.DisabledSpaces)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PriceInfo{}, ErrNotFound
	}
	if err != nil {
		return models.PriceInfo{}, err
	}
	if err := json.Unmarshal(tiers, &info.Tiers); err != nil {
		return models.PriceInfo{}, fmt.Errorf("decode tiers of %s: %w", id, err)
	}
	if err := json.Unmarshal(hours, &info.OpeningHours); err != nil {
		return models.PriceInfo{}, fmt.Errorf("decode opening hours of %s: %w", id, err)
	}
	return info, nil
}

func (p *PostgresStore) SavePriceInfo(ctx context.Context, info models.PriceInfo) error {
	tiers, err := json.Marshal(info.Tiers)
	if err != nil {
		return err
	}
	hours, err := json.Marshal(info.OpeningHours)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO price_infos(id, tiers, opening_hours, spaces, disabled_spaces) VALUES($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET tiers=EXCLUDED.tiers, opening_hours=EXCLUDED.opening_hours, spaces=EXCLUDED.spaces, disabled_spaces=EXCLUDED.disabled_spaces`,
		info.ID, tiers, hours, info.Spaces, info.DisabledSpaces)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(s scanner) (models.ParkingLocation, error) {
	var (
		l                               models.ParkingLocation
		sourceType                      string
		providerID, priceID, coverageID sql.NullString
	)
	if err := s.Scan(&l.ID, &sourceType, &providerID, &l.Name, &l.Address, &l.Rating, &l.Loc.Lat, &l.Loc.Lon,
		&priceID, &coverageID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return models.ParkingLocation{}, err
	}
	t, err := models.ParseSourceType(sourceType)
	if err != nil {
		return models.ParkingLocation{}, fmt.Errorf("location %s: %w", l.ID, err)
	}
	l.Type = t
	l.ProviderID = providerID.String
	l.PriceInfoID = priceID.String
	l.CoverageID = coverageID.String
	return l, nil
}

// mapUniqueViolation turns a unique_violation (provider_id or primary key)
// into ErrDuplicate.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
