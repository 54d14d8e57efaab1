package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/reconcile"
	"github.com/example/parking-prices/internal/storage"
)

func newIngester(store *storage.MemoryStore) *Ingester {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Ingester{
		Store:    store,
		Engine:   reconcile.NewEngine(reconcile.DefaultMergeDistance),
		Upserter: &storage.Upserter{Store: store, Logger: log},
		Logger:   log,
	}
}

func record(name string, loc models.Coord, price float64) models.ScrapedRecord {
	return models.ScrapedRecord{
		Source:    "ncp",
		SourceURL: "https://ncp.test/car-parks/" + name + "/",
		Location:  models.ParkingLocation{Name: name, Loc: loc},
		PriceInfo: models.PriceInfo{Tiers: []models.Tier{{Duration: models.Hours(2), Price: price}}, Spaces: 100},
	}
}

func TestIngestCreatesScrapedLocation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	loc, err := newIngester(store).Ingest(ctx, record("leeds", models.Coord{Lat: 53.8, Lon: -1.55}, 3))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if loc.Type != models.SourceScraped || loc.PriceInfoID == "" {
		t.Fatalf("unexpected location %+v", loc)
	}
	p, err := store.PriceInfo(ctx, loc.PriceInfoID)
	if err != nil || p.Spaces != 100 {
		t.Fatalf("price info not stored: %+v %v", p, err)
	}
}

func TestIngestMergesNearbyLocation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Insert(ctx, models.ParkingLocation{ID: "g1", Type: models.SourcePlaces, ProviderID: "p1", Name: "Google name", Loc: models.Coord{Lat: 53.8, Lon: -1.55}})
	ing := newIngester(store)

	first, err := ing.Ingest(ctx, record("leeds", models.Coord{Lat: 53.8001, Lon: -1.55}, 3))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "g1" || first.ProviderID != "p1" || first.Type != models.SourcePlaces {
		t.Fatalf("expected merge into g1, got %+v", first)
	}
	second, err := ing.Ingest(ctx, record("leeds", models.Coord{Lat: 53.8001, Lon: -1.55}, 4))
	if err != nil {
		t.Fatal(err)
	}
	if second.PriceInfoID != first.PriceInfoID {
		t.Fatal("re-ingesting must keep the price info id")
	}
	p, _ := store.PriceInfo(ctx, second.PriceInfoID)
	if p.Tiers[0].Price != 4 {
		t.Fatalf("price not replaced: %+v", p.Tiers)
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single location, got %d", store.Len())
	}
}

func TestIngestRejectsInvalidRecord(t *testing.T) {
	ing := newIngester(storage.NewMemoryStore())
	cases := map[string]models.ScrapedRecord{
		"no url":    {Source: "ncp", Location: models.ParkingLocation{Name: "x", Loc: models.Coord{Lat: 1, Lon: 1}}},
		"no name":   record("", models.Coord{Lat: 1, Lon: 1}, 1),
		"no coords": record("x", models.Coord{}, 1),
		"bad lat":   record("x", models.Coord{Lat: 95, Lon: 1}, 1),
	}
	for name, rec := range cases {
		if _, err := ing.Ingest(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("%s: expected ErrInvalidRecord, got %v", name, err)
		}
	}
}

func TestDecodeRecord(t *testing.T) {
	rec := record("york", models.Coord{Lat: 53.96, Lon: -1.08}, 2)
	b, _ := json.Marshal(rec)
	got, err := DecodeRecord(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SourceURL != rec.SourceURL || len(got.PriceInfo.Tiers) != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := DecodeRecord([]byte("{not json")); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}
