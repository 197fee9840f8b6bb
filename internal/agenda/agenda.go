// Package agenda groups per-day event records into the day-keyed structure
// calendar views render.
package agenda

import (
	"sort"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

// Default window loaded around a reference day.
const (
	DefaultDaysBefore = 15
	DefaultDaysAfter  = 85
)

// Filter narrows the projected records. Empty fields do not filter.
type Filter struct {
	OrganizerID string
	CreatorID   string
}

// Keep reports whether r passes the filter.
func (f Filter) Keep(r models.EventRecord) bool {
	if f.OrganizerID != "" && !r.HasOrganizer(f.OrganizerID) {
		return false
	}
	if f.CreatorID != "" && r.CreatorID != f.CreatorID {
		return false
	}
	return true
}

// Agenda maps a YYYY-MM-DD day to its records, in display order.
type Agenda map[string][]models.EventRecord

// Project filters records, groups them by day and sorts every day.
func Project(records []models.EventRecord, f Filter) Agenda {
	a := make(Agenda)
	for _, r := range records {
		if !f.Keep(r) {
			continue
		}
		day := r.Day.String()
		a[day] = append(a[day], r)
	}
	for _, items := range a {
		SortDay(items)
	}
	return a
}

// SortDay orders one day's records by start time, then end time. Times are
// zero-padded HH:MM, so plain string comparison is chronological. The record
// id breaks remaining ties.
func SortDay(items []models.EventRecord) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.EndTime != b.EndTime {
			return a.EndTime < b.EndTime
		}
		return a.ID < b.ID
	})
}

// Extend returns a copy of a in which every day from before days ahead of ref
// up to after-1 days past it has an entry. Days already present keep their
// records.
func (a Agenda) Extend(ref calendar.Day, before, after int) Agenda {
	out := a.Clone()
	if before < 0 {
		before = 0
	}
	for i := -before; i < after; i++ {
		day := ref.AddDays(i).String()
		if _, ok := out[day]; !ok {
			out[day] = []models.EventRecord{}
		}
	}
	return out
}

// Clone copies the day map and the per-day slices.
func (a Agenda) Clone() Agenda {
	out := make(Agenda, len(a))
	for day, items := range a {
		cp := make([]models.EventRecord, len(items))
		copy(cp, items)
		out[day] = cp
	}
	return out
}

// Days returns the days of the agenda in calendar order.
func (a Agenda) Days() []string {
	days := make([]string, 0, len(a))
	for day := range a {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// Len returns the number of records across all days.
func (a Agenda) Len() int {
	n := 0
	for _, items := range a {
		n += len(items)
	}
	return n
}
