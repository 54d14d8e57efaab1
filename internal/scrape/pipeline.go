package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/observability"
)

const (
	DefaultIndexURL      = "https://www.ncp.co.uk/parking-solutions/cities/"
	DefaultCarparkPrefix = "https://www.ncp.co.uk/find-a-car-park/car-parks/"
)

// Sink receives every record the pipeline produces.
type Sink interface {
	Emit(ctx context.Context, rec models.ScrapedRecord) error
}

type SinkFunc func(ctx context.Context, rec models.ScrapedRecord) error

func (f SinkFunc) Emit(ctx context.Context, rec models.ScrapedRecord) error { return f(ctx, rec) }

type Pipeline struct {
	IndexURL      string
	CarparkPrefix string
	Sink          Sink
	Logger        *slog.Logger
}

type Stats struct {
	Cities   int
	Carparks int
	Emitted  int
	Failed   int
}

// Run scrapes every city linked from the index, or only city when it is set.
// Failures on individual pages are logged and counted; Run itself fails only
// when the city list cannot be built or ctx ends.
func (p *Pipeline) Run(ctx context.Context, s *Session, city string) (Stats, error) {
	var st Stats
	log := p.logger()

	cities := []string{city}
	if city == "" {
		index := p.indexURL()
		var err error
		cities, err = s.Links(ctx, index, func(href string) bool {
			return strings.HasPrefix(href, index) && href != index && !strings.Contains(href, "#")
		})
		if err != nil {
			return st, fmt.Errorf("list cities: %w", err)
		}
	}
	st.Cities = len(cities)
	log.Info("scrape_cities_found", "count", len(cities))

	prefix := p.carparkPrefix()
	seen := make(map[string]bool)
	var carparks []string
	for _, c := range cities {
		links, err := s.Links(ctx, c, func(href string) bool { return strings.HasPrefix(href, prefix) })
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			log.Warn("scrape_city_failed", "url", c, "error", err)
			continue
		}
		added := 0
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				carparks = append(carparks, l)
				added++
			}
		}
		log.Debug("scrape_city_listed", "url", c, "carparks", added)
	}
	st.Carparks = len(carparks)
	log.Info("scrape_carparks_found", "count", len(carparks))

	for _, u := range carparks {
		rec, err := s.Carpark(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.Failed++
			observability.ScrapedRecordsTotal.WithLabelValues("parse_failed").Inc()
			log.Warn("scrape_carpark_failed", "url", u, "error", err)
			continue
		}
		if err := p.Sink.Emit(ctx, rec); err != nil {
			st.Failed++
			observability.ScrapedRecordsTotal.WithLabelValues("emit_failed").Inc()
			log.Error("scrape_emit_failed", "url", u, "error", err)
			continue
		}
		st.Emitted++
		observability.ScrapedRecordsTotal.WithLabelValues("emitted").Inc()
	}
	log.Info("scrape_complete", "cities", st.Cities, "carparks", st.Carparks, "emitted", st.Emitted, "failed", st.Failed)
	return st, nil
}

func (p *Pipeline) indexURL() string {
	if p.IndexURL == "" {
		return DefaultIndexURL
	}
	return p.IndexURL
}

func (p *Pipeline) carparkPrefix() string {
	if p.CarparkPrefix == "" {
		return DefaultCarparkPrefix
	}
	return p.CarparkPrefix
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
