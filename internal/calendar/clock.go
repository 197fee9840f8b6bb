package calendar

import (
	"fmt"
	"time"
)

// ClockLayout is the zero-padded 24h wall-clock layout stored on records.
const ClockLayout = "15:04"

// ValidClock reports whether s is a zero-padded HH:MM time. Only padded
// values keep string comparison equal to chronological comparison.
func ValidClock(s string) bool {
	if len(s) != len(ClockLayout) {
		return false
	}
	_, err := time.Parse(ClockLayout, s)
	return err == nil
}

// FormatClock formats the wall-clock part of t as HH:MM.
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

// At combines a day and an HH:MM clock into a time in loc.
func At(d Day, clock string, loc *time.Location) (time.Time, error) {
	c, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, dd := d.t.Date()
	return time.Date(y, m, dd, c.Hour(), c.Minute(), 0, 0, loc), nil
}
