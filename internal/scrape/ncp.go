package scrape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/pricing"
)

// SourceNCP tags records produced from ncp.co.uk carpark pages.
const SourceNCP = "ncp"

var ErrNoCarparkData = errors.New("no carpark data on page")

var (
	hoursRe = regexp.MustCompile(`(?i)^(?:app\s+)?(\d+)\s*hours?$`)
	rangeRe = regexp.MustCompile(`(?i)^(?:app\s+)?(\d+)\s*to\s*(\d+)\s*hours?$`)
	appRe   = regexp.MustCompile(`(?i)\bapp\b`)
	clockRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// ParseTariff turns one NCP tariff row into a price tier. "2 hours",
// "APP 3 hours" and "1 to 4 hours" become numeric durations (the upper bound
// for ranges). Night, early bird, evening and weekend rows become named rates.
// Anything else is reported as not ok.
func ParseTariff(title string, charge float64) (models.Tier, bool) {
	title = strings.TrimSpace(title)
	tier := models.Tier{Price: charge, Title: title, AppOnly: appRe.MatchString(title)}

	if m := hoursRe.FindStringSubmatch(title); m != nil {
		n, _ := strconv.Atoi(m[1])
		tier.Duration = models.Hours(n)
		return tier, true
	}
	if m := rangeRe.FindStringSubmatch(title); m != nil {
		n, _ := strconv.Atoi(m[2])
		tier.Duration = models.Hours(n)
		return tier, true
	}

	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "night"):
		tier.NightRate = true
	case strings.Contains(lower, "early bird"), strings.Contains(lower, "earlybird"):
		tier.EarlyBird = true
	case strings.Contains(lower, "evening"), strings.Contains(lower, "weekend"):
	default:
		return models.Tier{}, false
	}
	tier.Duration = models.NamedRate(title)
	return tier, true
}

var dayIndex = map[string]int{"mo": 0, "tu": 1, "we": 2, "th": 3, "fr": 4, "sa": 5, "su": 6}

// ParseOpeningHours reads NCP opening hours such as
// "Mo-Fr 07:00-19:00; Sa 08:00-18:00" or "24 Hr". Segments it cannot read are
// skipped and reported in the returned error.
func ParseOpeningHours(s string) (models.WeeklyHours, error) {
	var (
		w    models.WeeklyHours
		errs []error
	)
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimRight(strings.TrimSpace(seg), ".")
		if seg == "" {
			continue
		}
		if isAllDay(seg) {
			for d := 0; d < 7; d++ {
				*w.Day(d) = append(*w.Day(d), allDay())
			}
			continue
		}
		daySpec, timeSpec, ok := strings.Cut(seg, " ")
		if !ok {
			errs = append(errs, fmt.Errorf("opening hours segment %q: missing time", seg))
			continue
		}
		days, err := parseDays(daySpec)
		if err != nil {
			errs = append(errs, fmt.Errorf("opening hours segment %q: %w", seg, err))
			continue
		}
		iv, err := parseInterval(strings.TrimRight(strings.TrimSpace(timeSpec), "."))
		if err != nil {
			errs = append(errs, fmt.Errorf("opening hours segment %q: %w", seg, err))
			continue
		}
		for _, d := range days {
			*w.Day(d) = append(*w.Day(d), iv)
		}
	}
	return w, errors.Join(errs...)
}

func isAllDay(s string) bool {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return s == "24 hr" || s == "24 hrs" || s == "24 hours"
}

func allDay() models.Interval { return models.Interval{Open: "00:00", Close: "24:00"} }

// parseDays expands "Mo-Fr", "Sa" or "Sa,Su" to weekday indexes.
func parseDays(days string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(days, ",") {
		from, to, isRange := strings.Cut(strings.TrimSpace(part), "-")
		start, ok := dayIndex[strings.ToLower(from)]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", from)
		}
		end := start
		if isRange {
			if end, ok = dayIndex[strings.ToLower(to)]; !ok {
				return nil, fmt.Errorf("unknown day %q", to)
			}
			if end < start {
				return nil, fmt.Errorf("day range %q runs backwards", part)
			}
		}
		for d := start; d <= end; d++ {
			out = append(out, d)
		}
	}
	return out, nil
}

func parseInterval(window string) (models.Interval, error) {
	if isAllDay(window) {
		return allDay(), nil
	}
	open, closing, ok := strings.Cut(window, "-")
	open, closing = strings.TrimSpace(open), strings.TrimSpace(closing)
	if !ok || !clockRe.MatchString(open) || !clockRe.MatchString(closing) {
		return models.Interval{}, fmt.Errorf("bad time range %q", window)
	}
	return models.Interval{Open: open, Close: closing}, nil
}

// number accepts 3.5, "3.5" and "£3.50".
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimLeft(strings.TrimSpace(s), "£$€")
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type carparkPayload struct {
	Location struct {
		Coords struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"coords"`
	} `json:"location"`
	Carparks []carparkDetail `json:"carparks"`
}

type carparkDetail struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Tariffs []struct {
		Title  string `json:"tariffTitle"`
		Charge number `json:"tariffCharge"`
	} `json:"tariffs"`
	NumberOfSpaces       number `json:"numberOfSpaces"`
	NumberOfDisabledBays number `json:"numberOfDisabledBays"`
	OpenHours            string `json:"openHours"`
}

const logCall = "console.log("

// extractPayload finds the carpark data the page logs from an inline script.
func extractPayload(page []byte) (carparkPayload, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return carparkPayload{}, fmt.Errorf("parse page: %w", err)
	}
	var found *carparkPayload
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" && n.FirstChild != nil {
			text := n.FirstChild.Data
			if i := strings.Index(text, logCall); i >= 0 {
				var payloads []carparkPayload
				dec := json.NewDecoder(strings.NewReader(text[i+len(logCall):]))
				if err := dec.Decode(&payloads); err == nil && len(payloads) > 0 && len(payloads[0].Carparks) > 0 {
					found = &payloads[0]
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return carparkPayload{}, ErrNoCarparkData
	}
	return *found, nil
}

// toRecord converts the page payload into the scrape output contract.
func toRecord(pageURL string, p carparkPayload) (models.ScrapedRecord, []error) {
	var warnings []error
	d := p.Carparks[0]

	tiers := make([]models.Tier, 0, len(d.Tariffs))
	for _, t := range d.Tariffs {
		tier, ok := ParseTariff(t.Title, float64(t.Charge))
		if !ok {
			warnings = append(warnings, fmt.Errorf("unrecognised tariff %q", t.Title))
			continue
		}
		tiers = append(tiers, tier)
	}
	pricing.SortTiers(tiers)

	hours, err := ParseOpeningHours(d.OpenHours)
	if err != nil {
		warnings = append(warnings, err)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = nameFromURL(pageURL)
	}
	return models.ScrapedRecord{
		Source:    SourceNCP,
		SourceURL: pageURL,
		Location: models.ParkingLocation{
			Type:    models.SourceScraped,
			Name:    name,
			Address: strings.TrimSpace(d.Address),
			Loc:     models.Coord{Lat: p.Location.Coords.Lat, Lon: p.Location.Coords.Lng},
		},
		PriceInfo: models.PriceInfo{
			Tiers:          tiers,
			OpeningHours:   hours,
			Spaces:         int(d.NumberOfSpaces),
			DisabledSpaces: int(d.NumberOfDisabledBays),
		},
	}, warnings
}

// nameFromURL turns ".../car-parks/leeds-the-light/" into "leeds the light".
func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.ReplaceAll(path.Base(strings.TrimSuffix(u.Path, "/")), "-", " ")
}
