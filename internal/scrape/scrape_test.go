package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/parking-prices/internal/models"
)

func TestParseTariff(t *testing.T) {
	tests := []struct {
		title     string
		wantOK    bool
		wantHours int
		wantLabel string
		wantApp   bool
		wantNight bool
		wantEarly bool
	}{
		{title: "1 hour", wantOK: true, wantHours: 1},
		{title: "2 Hours", wantOK: true, wantHours: 2},
		{title: "APP 3 hours", wantOK: true, wantHours: 3, wantApp: true},
		{title: "1 to 4 hours", wantOK: true, wantHours: 4},
		{title: "APP 4 to 24 hours", wantOK: true, wantHours: 24, wantApp: true},
		{title: "Night rate", wantOK: true, wantLabel: "Night rate", wantNight: true},
		{title: "Early Bird", wantOK: true, wantLabel: "Early Bird", wantEarly: true},
		{title: "Weekend day", wantOK: true, wantLabel: "Weekend day"},
		{title: "Lost ticket", wantOK: false},
		{title: "Happy hours", wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			got, ok := ParseTariff(tc.title, 4.5)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got.Price != 4.5 || got.Title != tc.title {
				t.Fatalf("unexpected tier %+v", got)
			}
			if got.AppOnly != tc.wantApp || got.NightRate != tc.wantNight || got.EarlyBird != tc.wantEarly {
				t.Fatalf("flags = app:%v night:%v early:%v", got.AppOnly, got.NightRate, got.EarlyBird)
			}
			h, numeric := got.Duration.Hours()
			if tc.wantLabel != "" {
				if numeric || got.Duration.Label() != tc.wantLabel {
					t.Fatalf("expected named rate %q, got %v", tc.wantLabel, got.Duration)
				}
				return
			}
			if !numeric || h != tc.wantHours {
				t.Fatalf("hours = %d (numeric %v), want %d", h, numeric, tc.wantHours)
			}
		})
	}
}

func TestParseOpeningHours(t *testing.T) {
	w, err := ParseOpeningHours("Mo-Fr 07:00-19:00; Sa 08:00-18:00.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	weekday := []models.Interval{{Open: "07:00", Close: "19:00"}}
	for d := 0; d < 5; d++ {
		if got := *w.Day(d); len(got) != 1 || got[0] != weekday[0] {
			t.Fatalf("day %d = %+v", d, got)
		}
	}
	if len(w.Saturday) != 1 || w.Saturday[0].Close != "18:00" {
		t.Fatalf("saturday = %+v", w.Saturday)
	}
	if len(w.Sunday) != 0 {
		t.Fatalf("sunday should be closed, got %+v", w.Sunday)
	}
}

func TestParseOpeningHoursAllDay(t *testing.T) {
	w, err := ParseOpeningHours("24 Hr")
	if err != nil {
		t.Fatal(err)
	}
	for d := 0; d < 7; d++ {
		if got := *w.Day(d); len(got) != 1 || got[0].Open != "00:00" || got[0].Close != "24:00" {
			t.Fatalf("day %d = %+v", d, got)
		}
	}
}

func TestParseOpeningHoursSkipsBadSegments(t *testing.T) {
	w, err := ParseOpeningHours("Xx 07:00-19:00; Su 10:00-16:00; Sa,Su late")
	if err == nil {
		t.Fatal("expected an error for unreadable segments")
	}
	if len(w.Sunday) != 1 || w.Sunday[0].Open != "10:00" {
		t.Fatalf("readable segment lost: %+v", w.Sunday)
	}
}

func carparkPage(name string) string {
	return fmt.Sprintf(`<html><head><script>var x = 1;</script></head><body>
<script>console.log([{"location":{"coords":{"lat":53.8,"lng":-1.55}},"carparks":[{"name":%q,"tariffs":[
 {"tariffTitle":"APP 2 hours","tariffCharge":"£3.50"},
 {"tariffTitle":"Night","tariffCharge":5},
 {"tariffTitle":"1 hour","tariffCharge":2},
 {"tariffTitle":"Lost ticket","tariffCharge":40}],
 "numberOfSpaces":200,"numberOfDisabledBays":"12","openHours":"Mo-Fr 07:00-19:00; Sa 08:00-18:00."}]}]);</script>
</body></html>`, name)
}

func TestExtractPayloadToRecord(t *testing.T) {
	p, err := extractPayload([]byte(carparkPage("Leeds Light")))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	rec, warnings := toRecord("https://ncp.test/car-parks/leeds-light/", p)
	if len(warnings) != 1 {
		t.Fatalf("expected the lost ticket tariff to be reported, got %v", warnings)
	}
	if rec.Source != SourceNCP || rec.Location.Type != models.SourceScraped || rec.Location.Name != "Leeds Light" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Location.Loc != (models.Coord{Lat: 53.8, Lon: -1.55}) {
		t.Fatalf("loc = %+v", rec.Location.Loc)
	}
	if rec.PriceInfo.Spaces != 200 || rec.PriceInfo.DisabledSpaces != 12 {
		t.Fatalf("capacity = %d/%d", rec.PriceInfo.Spaces, rec.PriceInfo.DisabledSpaces)
	}
	tiers := rec.PriceInfo.Tiers
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %+v", tiers)
	}
	if h, _ := tiers[0].Duration.Hours(); h != 1 {
		t.Fatalf("tiers not sorted: %+v", tiers)
	}
	if tiers[1].Price != 3.5 || !tiers[1].AppOnly {
		t.Fatalf("app tier = %+v", tiers[1])
	}
	if _, ok := tiers[2].Duration.Hours(); ok {
		t.Fatal("named rate must sort last")
	}
	if len(rec.PriceInfo.OpeningHours.Monday) != 1 {
		t.Fatal("opening hours missing")
	}
}

func TestExtractPayloadMissing(t *testing.T) {
	_, err := extractPayload([]byte(`<html><script>console.log("hello")</script></html>`))
	if !errors.Is(err, ErrNoCarparkData) {
		t.Fatalf("expected ErrNoCarparkData, got %v", err)
	}
}

func TestNameFromURL(t *testing.T) {
	if got := nameFromURL("https://ncp.test/car-parks/leeds-the-light/"); got != "leeds the light" {
		t.Fatalf("got %q", got)
	}
}

type fakeBrowser struct {
	pages  map[string]string
	loads  []string
	closed bool
}

func (f *fakeBrowser) Get(_ context.Context, url string) ([]byte, error) {
	f.loads = append(f.loads, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: status 404", url)
	}
	return []byte(body), nil
}

func (f *fakeBrowser) Close() error { f.closed = true; return nil }

type memArchive struct{ keys []string }

func (m *memArchive) Put(_ context.Context, pageURL string, _ []byte) error {
	m.keys = append(m.keys, ArchiveKey(pageURL))
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sitePages() map[string]string {
	return map[string]string{
		"https://ncp.test/cities/": `<a href="/cities/leeds/">Leeds</a><a href="/cities/york/">York</a>
<a href="/cities/#">top</a><a href="/cities/">self</a><a href="https://elsewhere.test/">x</a>`,
		"https://ncp.test/cities/leeds/": `<a href="/car-parks/a/">A</a><a href="/car-parks/b/">B</a><a href="/about">about</a>`,
		"https://ncp.test/cities/york/":  `<a href="/car-parks/b/">B</a><a href="/car-parks/c/">C</a>`,
		"https://ncp.test/car-parks/a/":  carparkPage("A"),
		"https://ncp.test/car-parks/b/":  carparkPage("B"),
		"https://ncp.test/car-parks/c/":  `<html>no data</html>`,
	}
}

func TestPipelineRun(t *testing.T) {
	b := &fakeBrowser{pages: sitePages()}
	arch := &memArchive{}
	var got []models.ScrapedRecord
	p := &Pipeline{
		IndexURL:      "https://ncp.test/cities/",
		CarparkPrefix: "https://ncp.test/car-parks/",
		Sink: SinkFunc(func(_ context.Context, rec models.ScrapedRecord) error {
			got = append(got, rec)
			return nil
		}),
		Logger: quietLogger(),
	}
	var st Stats
	err := WithSession(context.Background(), b, SessionOptions{Archive: arch, Logger: quietLogger()}, func(ctx context.Context, s *Session) error {
		var err error
		st, err = p.Run(ctx, s, "")
		return err
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !b.closed {
		t.Fatal("browser not closed")
	}
	if st.Cities != 2 || st.Carparks != 3 || st.Emitted != 2 || st.Failed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(got) != 2 || got[0].Location.Name != "A" || got[1].Location.Name != "B" {
		t.Fatalf("unexpected records %+v", got)
	}
	if len(arch.keys) != 3 || arch.keys[0] != "raw/ncp.test/car-parks/a.html" {
		t.Fatalf("archive keys = %v", arch.keys)
	}
	loadsOfB := 0
	for _, l := range b.loads {
		if strings.HasSuffix(l, "/car-parks/b/") {
			loadsOfB++
		}
	}
	if loadsOfB != 1 {
		t.Fatalf("duplicate carpark loaded %d times", loadsOfB)
	}
}

func TestPipelineSingleCity(t *testing.T) {
	b := &fakeBrowser{pages: sitePages()}
	p := &Pipeline{
		CarparkPrefix: "https://ncp.test/car-parks/",
		Sink:          SinkFunc(func(context.Context, models.ScrapedRecord) error { return nil }),
		Logger:        quietLogger(),
	}
	var st Stats
	_ = WithSession(context.Background(), b, SessionOptions{}, func(ctx context.Context, s *Session) error {
		var err error
		st, err = p.Run(ctx, s, "https://ncp.test/cities/york/")
		return err
	})
	if st.Cities != 1 || st.Carparks != 2 || st.Emitted != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if b.loads[0] != "https://ncp.test/cities/york/" {
		t.Fatalf("index must not be loaded for a single city, first load %s", b.loads[0])
	}
}

func TestWithSessionClosesOnError(t *testing.T) {
	b := &fakeBrowser{pages: map[string]string{}}
	p := &Pipeline{IndexURL: "https://ncp.test/missing/", Sink: SinkFunc(func(context.Context, models.ScrapedRecord) error { return nil })}
	err := WithSession(context.Background(), b, SessionOptions{Logger: quietLogger()}, func(ctx context.Context, s *Session) error {
		_, err := p.Run(ctx, s, "")
		return err
	})
	if err == nil {
		t.Fatal("expected index failure")
	}
	if !b.closed {
		t.Fatal("browser must be closed on error")
	}
}

func TestArchiveKey(t *testing.T) {
	tests := map[string]string{
		"https://www.NCP.co.uk/find-a-car-park/car-parks/leeds-the-light/": "raw/www.ncp.co.uk/find-a-car-park/car-parks/leeds-the-light.html",
		"https://ncp.test/":                 "raw/ncp.test/index.html",
		"https://ncp.test/Car_Parks/X.1/?q": "raw/ncp.test/car_parks/x.1.html",
	}
	for in, want := range tests {
		if got := ArchiveKey(in); got != want {
			t.Errorf("ArchiveKey(%q) = %q, want %q", in, got, want)
		}
	}
}
