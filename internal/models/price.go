package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Duration is either a whole number of hours or a named rate such as
// "Night rate". Named rates never take part in tier resolution.
type Duration struct {
	hours int
	label string
}

func Hours(n int) Duration { return Duration{hours: n} }

func NamedRate(label string) Duration { return Duration{label: label} }

// Hours returns the numeric duration and false for named rates.
func (d Duration) Hours() (int, bool) {
	if d.label != "" {
		return 0, false
	}
	return d.hours, true
}

func (d Duration) Label() string { return d.label }

func (d Duration) String() string {
	if d.label != "" {
		return d.label
	}
	return fmt.Sprintf("%dh", d.hours)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.label != "" {
		return json.Marshal(d.label)
	}
	return json.Marshal(d.hours)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return fmt.Errorf("empty named rate")
		}
		*d = NamedRate(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be an integer or a label: %w", err)
	}
	*d = Hours(n)
	return nil
}

type Tier struct {
	Duration  Duration `json:"hours"`
	Price     float64  `json:"price" validate:"gte=0"`
	AppOnly   bool     `json:"app_only,omitempty"`
	NightRate bool     `json:"night_rate,omitempty"`
	EarlyBird bool     `json:"early_bird,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// Interval is an opening window in "HH:MM" form; Close may be "24:00".
type Interval struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

type WeeklyHours struct {
	Monday    []Interval `json:"monday"`
	Tuesday   []Interval `json:"tuesday"`
	Wednesday []Interval `json:"wednesday"`
	Thursday  []Interval `json:"thursday"`
	Friday    []Interval `json:"friday"`
	Saturday  []Interval `json:"saturday"`
	Sunday    []Interval `json:"sunday"`
}

// Day returns a pointer to the slot for a weekday index, Monday = 0.
func (w *WeeklyHours) Day(i int) *[]Interval {
	switch i {
	case 0:
		return &w.Monday
	case 1:
		return &w.Tuesday
	case 2:
		return &w.Wednesday
	case 3:
		return &w.Thursday
	case 4:
		return &w.Friday
	case 5:
		return &w.Saturday
	case 6:
		return &w.Sunday
	}
	return nil
}

type PriceInfo struct {
	ID             string      `json:"id"`
	Tiers          []Tier      `json:"tiers"`
	OpeningHours   WeeklyHours `json:"opening_hours"`
	Spaces         int         `json:"spaces"`
	DisabledSpaces int         `json:"disabled_spaces"`
}
