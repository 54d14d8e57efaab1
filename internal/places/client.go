package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/parking-prices/internal/models"
)

const (
	DefaultEndpoint = "https://places.googleapis.com/v1/places:searchNearby"
	fieldMask       = "places.id,places.displayName,places.formattedAddress,places.rating,places.location"
	maxRadius       = 50000.0
)

var (
	// ErrInvalidCandidate marks a provider place that fails the RawCandidate schema.
	ErrInvalidCandidate = errors.New("invalid place candidate")
	ErrNoAPIKey         = errors.New("places api key not configured")
)

// Client performs nearby parking searches against the places HTTP API.
type Client struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	Client     *http.Client
	validate   *validator.Validate
}

func NewClient(endpoint, apiKey string, maxResults int, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		MaxResults: maxResults,
		Client:     &http.Client{Timeout: timeout},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

type searchRequest struct {
	IncludedTypes       []string            `json:"includedTypes"`
	MaxResultCount      int                 `json:"maxResultCount,omitempty"`
	LocationRestriction locationRestriction `json:"locationRestriction"`
}

type locationRestriction struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type searchResponse struct {
	Places []place `json:"places"`
}

type place struct {
	ID               string  `json:"id"`
	FormattedAddress string  `json:"formattedAddress"`
	Rating           float64 `json:"rating"`
	Location         *latLng `json:"location"`
	DisplayName      *struct {
		Text string `json:"text"`
	} `json:"displayName"`
}

// SearchNearby returns validated parking candidates within radius meters of c.
// Places that fail validation are returned in the joined error alongside the
// valid ones; a transport or decode failure returns no candidates.
func (c *Client) SearchNearby(ctx context.Context, center models.Coord, radius float64) ([]models.RawCandidate, error) {
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if radius > maxRadius {
		radius = maxRadius
	}
	body, err := json.Marshal(searchRequest{
		IncludedTypes:  []string{"parking"},
		MaxResultCount: c.MaxResults,
		LocationRestriction: locationRestriction{Circle: circle{
			Center: latLng{Latitude: center.Lat, Longitude: center.Lon},
			Radius: radius,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.APIKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search nearby: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search nearby: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	cands := make([]models.RawCandidate, 0, len(out.Places))
	var errs []error
	for i, p := range out.Places {
		rc, err := c.toCandidate(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("place %d (%q): %w", i, p.ID, err))
			continue
		}
		cands = append(cands, rc)
	}
	return cands, errors.Join(errs...)
}

func (c *Client) toCandidate(p place) (models.RawCandidate, error) {
	if p.Location == nil {
		return models.RawCandidate{}, fmt.Errorf("%w: missing location", ErrInvalidCandidate)
	}
	if p.DisplayName == nil {
		return models.RawCandidate{}, fmt.Errorf("%w: missing display name", ErrInvalidCandidate)
	}
	rc := models.RawCandidate{
		ProviderID: p.ID,
		Name:       p.DisplayName.Text,
		Address:    p.FormattedAddress,
		Rating:     p.Rating,
		Loc:        models.Coord{Lat: p.Location.Latitude, Lon: p.Location.Longitude},
	}
	if err := c.validate.Struct(rc); err != nil {
		return models.RawCandidate{}, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	return rc, nil
}
