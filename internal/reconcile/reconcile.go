// Package reconcile merges freshly discovered parking places with the
// locations already stored nearby and turns the result into create or
// update directives for the storage upserter.
//
// Matching is first-match-wins in the order existing locations are given:
// the first stored location within MergeDistance of a candidate is the one it
// merges into, even if a closer one follows. Callers that want nearest-first
// behaviour pass existing locations sorted by distance.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/parking-prices/internal/geo"
	"github.com/example/parking-prices/internal/models"
)

// DefaultMergeDistance is the proximity merge threshold in meters.
const DefaultMergeDistance = 35.0

type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Directive is one write the upserter must perform. PriceInfo is set only
// when the directive also carries pricing to store.
type Directive struct {
	Action    Action
	Location  models.ParkingLocation
	PriceInfo *models.PriceInfo
}

type Engine struct {
	MergeDistance float64
	Now           func() time.Time
	NewID         func() string
}

func NewEngine(mergeDistance float64) *Engine {
	if mergeDistance <= 0 {
		mergeDistance = DefaultMergeDistance
	}
	return &Engine{MergeDistance: mergeDistance, Now: time.Now, NewID: uuid.NewString}
}

// decision is the outcome for one candidate before dedup.
type decision struct {
	match  int // index into existing, -1 when none
	saved  bool
	source models.RawCandidate
}

// Reconcile turns provider candidates into directives against existing.
// A candidate within MergeDistance of a stored location updates it; otherwise
// it creates a new location unless a stored one already carries its provider
// id. The output never holds two directives for the same location or the same
// provider id.
func (e *Engine) Reconcile(cands []models.RawCandidate, correlationID string, existing []models.ParkingLocation) []Directive {
	savedBy := make(map[string]bool, len(existing))
	for _, loc := range existing {
		if loc.ProviderID != "" {
			savedBy[loc.ProviderID] = true
		}
	}

	// each decision only reads existing, so order of evaluation is free
	decisions := make([]decision, len(cands))
	for i, r := range cands {
		decisions[i] = decision{match: e.firstWithin(r.Loc, existing), saved: savedBy[r.ProviderID], source: r}
	}

	now := e.Now()
	out := make([]Directive, 0, len(cands))
	for _, d := range decisions {
		r := d.source
		switch {
		case d.match >= 0:
			loc := existing[d.match]
			loc.Name = r.Name
			loc.Address = r.Address
			loc.Rating = r.Rating
			loc.CoverageID = correlationID
			loc.UpdatedAt = now
			if loc.ProviderID == "" && !d.saved {
				loc.ProviderID = r.ProviderID
			}
			out = append(out, Directive{Action: ActionUpdate, Location: loc})
		case !d.saved:
			out = append(out, Directive{Action: ActionCreate, Location: models.ParkingLocation{
				ID:         e.NewID(),
				Type:       models.SourcePlaces,
				ProviderID: r.ProviderID,
				Name:       r.Name,
				Address:    r.Address,
				Rating:     r.Rating,
				Loc:        r.Loc,
				CoverageID: correlationID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}})
		}
	}
	return Dedup(out)
}

// ReconcileScraped merges one scraped record into the stored locations. The
// record's price info replaces the matched location's pricing, keeping its id
// so references stay valid.
func (e *Engine) ReconcileScraped(rec models.ScrapedRecord, existing []models.ParkingLocation) Directive {
	now := e.Now()
	price := rec.PriceInfo
	if i := e.firstWithin(rec.Location.Loc, existing); i >= 0 {
		loc := existing[i]
		if rec.Location.Name != "" {
			loc.Name = rec.Location.Name
		}
		if rec.Location.Address != "" {
			loc.Address = rec.Location.Address
		}
		if loc.PriceInfoID == "" {
			loc.PriceInfoID = e.NewID()
		}
		price.ID = loc.PriceInfoID
		loc.UpdatedAt = now
		return Directive{Action: ActionUpdate, Location: loc, PriceInfo: &price}
	}

	loc := rec.Location
	loc.ID = e.NewID()
	loc.Type = models.SourceScraped
	loc.ProviderID = ""
	loc.CoverageID = ""
	price.ID = e.NewID()
	loc.PriceInfoID = price.ID
	loc.CreatedAt = now
	loc.UpdatedAt = now
	return Directive{Action: ActionCreate, Location: loc, PriceInfo: &price}
}

// Contribution builds the create directive for a user-submitted location.
func (e *Engine) Contribution(loc models.ParkingLocation, price *models.PriceInfo) Directive {
	now := e.Now()
	loc.ID = e.NewID()
	loc.Type = models.SourceUser
	loc.ProviderID = ""
	loc.CoverageID = ""
	loc.PriceInfoID = ""
	loc.CreatedAt = now
	loc.UpdatedAt = now
	if price != nil {
		p := *price
		p.ID = e.NewID()
		loc.PriceInfoID = p.ID
		price = &p
	}
	return Directive{Action: ActionCreate, Location: loc, PriceInfo: price}
}

func (e *Engine) firstWithin(c models.Coord, existing []models.ParkingLocation) int {
	for i, loc := range existing {
		if geo.DistanceWithin(loc.Loc, c, e.MergeDistance) {
			return i
		}
	}
	return -1
}

// Dedup keeps the first directive per location id and per provider id.
func Dedup(ds []Directive) []Directive {
	seenLoc := make(map[string]bool, len(ds))
	seenProvider := make(map[string]bool, len(ds))
	out := make([]Directive, 0, len(ds))
	for _, d := range ds {
		if seenLoc[d.Location.ID] {
			continue
		}
		if p := d.Location.ProviderID; p != "" {
			if seenProvider[p] {
				continue
			}
			seenProvider[p] = true
		}
		seenLoc[d.Location.ID] = true
		out = append(out, d)
	}
	return out
}
