// Package calendar holds the civil-date and wall-clock types shared by the
// expansion engine and the agenda projection.
package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DayLayout is the ISO date layout used for persisted day fields.
const DayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day or zone. The zero value is
// the unset day.
type Day struct {
	t time.Time
}

// NewDay returns the day for the given civil date, normalising overflow the
// same way time.Date does.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the civil date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return NewDay(y, m, d)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day{t: t}, nil
}

// MustParseDay is ParseDay for literals in tests and defaults.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) IsZero() bool { return d.t.IsZero() }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DayLayout)
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time { return d.t }

func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }

// DaysUntil returns the number of days from d to o; negative when o is
// earlier.
func (d Day) DaysUntil(o Day) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	p, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	p, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Range returns every day from start to end inclusive. It returns nil when
// end is before start.
func Range(start, end Day) []Day {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start.t,
		Until:   end.t,
	})
	if err != nil {
		// DAILY with a valid Dtstart cannot fail; keep a plain walk as the
		// fallback so callers never see a short range.
		return walk(start, end)
	}
	occ := r.All()
	days := make([]Day, 0, len(occ))
	for _, t := range occ {
		days = append(days, DayOf(t.UTC()))
	}
	return days
}

func walk(start, end Day) []Day {
	var days []Day
	for d := start; !d.After(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
