package agenda

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
)

// WriteICS exports the agenda as an iCalendar feed, one VEVENT per record.
// Wall-clock times are interpreted in loc (UTC when nil).
func WriteICS(w io.Writer, a Agenda, name string, loc *time.Location, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//agenda-distribuida//family-organizer//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, day := range a.Days() {
		for _, r := range a[day] {
			start, err := calendar.At(r.Day, r.StartTime, loc)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}
			end, err := calendar.At(r.Day, r.EndTime, loc)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.ID, err)
			}

			ev := cal.AddEvent(fmt.Sprintf("%s@family-organizer", r.ID))
			ev.SetDtStampTime(now)
			ev.SetStartAt(start)
			ev.SetEndAt(end)
			ev.SetSummary(r.Name)
			if r.Description != "" {
				ev.SetDescription(r.Description)
			}
			if r.Color != "" {
				ev.SetProperty(ical.ComponentPropertyCategories, r.Color)
			}
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
