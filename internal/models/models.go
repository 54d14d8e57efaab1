package models

import (
	"errors"
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Valid reports whether the coordinate lies inside the WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coord) String() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon) }

// SourceType tags where a ParkingLocation was first discovered.
type SourceType int

const (
	SourceInvalid SourceType = iota

	SourcePlaces  // external places provider
	SourceScraped // operator website scrape
	SourceUser    // user contribution
)

var ErrUnknownSourceType = errors.New("unknown source type")

func (s SourceType) String() string {
	switch s {
	case SourcePlaces:
		return "external-provider-sourced"
	case SourceScraped:
		return "scraped"
	case SourceUser:
		return "user-contributed"
	default:
		return "invalid"
	}
}

func ParseSourceType(s string) (SourceType, error) {
	switch s {
	case "external-provider-sourced":
		return SourcePlaces, nil
	case "scraped":
		return SourceScraped, nil
	case "user-contributed":
		return SourceUser, nil
	default:
		return SourceInvalid, ErrUnknownSourceType
	}
}

func (s SourceType) MarshalText() ([]byte, error) {
	if s == SourceInvalid {
		return nil, ErrUnknownSourceType
	}
	return []byte(s.String()), nil
}

func (s *SourceType) UnmarshalText(b []byte) error {
	v, err := ParseSourceType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CoverageRegion marks an area already resolved against the places provider.
type CoverageRegion struct {
	ID    string `json:"id"`
	Coord Coord  `json:"coord"`
}

type ParkingLocation struct {
	ID          string     `json:"id"`
	Type        SourceType `json:"type"`
	ProviderID  string     `json:"provider_id,omitempty"`
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Rating      float64    `json:"rating"`
	Loc         Coord      `json:"loc"`
	PriceInfoID string     `json:"price_info_id,omitempty"`
	CoverageID  string     `json:"coverage_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RawCandidate is one place returned by the external provider.
type RawCandidate struct {
	ProviderID string  `json:"provider_id" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	Address    string  `json:"address"`
	Rating     float64 `json:"rating" validate:"gte=0,lte=5"`
	Loc        Coord   `json:"loc"`
}

// LocationSummary is the query response row.
type LocationSummary struct {
	Type          SourceType `json:"type"`
	Name          string     `json:"name"`
	Rating        float64    `json:"rating"`
	Address       string     `json:"address"`
	ID            string     `json:"id"`
	Loc           Coord      `json:"loc"`
	DistanceM     float64    `json:"distance_m"`
	MatchingPrice *Tier      `json:"matching_price,omitempty"`
}

// ScrapedRecord is the output contract of the scrape pipeline.
type ScrapedRecord struct {
	Source    string          `json:"source" validate:"required"`
	SourceURL string          `json:"source_url" validate:"required,url"`
	Location  ParkingLocation `json:"location"`
	PriceInfo PriceInfo       `json:"price_info"`
}
