package expansion

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

var epoch = calendar.MustParseDay("2024-01-01")

func spanning(startOffset, length int) models.LogicalEvent {
	ev := trip("2024-01-01", "2024-01-01")
	ev.ParentEventID = 99
	ev.StartDate = epoch.AddDays(startOffset)
	ev.EndDate = ev.StartDate.AddDays(length - 1)
	return ev
}

func TestProperty_ExpandCoversRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one record per day with the series end rule", prop.ForAll(
		func(offset, length int) bool {
			ev := spanning(offset, length)
			records := Expand(ev)
			if len(records) != length {
				return false
			}
			for i, r := range records {
				if !r.Day.Equal(ev.StartDate.AddDays(i)) {
					return false
				}
				if !r.StartDateOfSeries.Equal(ev.StartDate) {
					return false
				}
				last := i == length-1
				if last && !r.EndDateOfSeries.Equal(r.Day) {
					return false
				}
				if !last && !r.EndDateOfSeries.Equal(ev.EndDate) {
					return false
				}
			}
			return true
		},
		gen.IntRange(-400, 400),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}

func TestProperty_EditReconcilesToNewRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("after applying an edit plan the series covers exactly the new range", prop.ForAll(
		func(oldOffset, oldLen, newOffset, newLen int) bool {
			before := spanning(oldOffset, oldLen)
			existing := stored(Expand(before))
			after := spanning(newOffset, newLen)

			plan, err := PlanEdit(after, existing)
			if err != nil {
				return false
			}

			byID := make(map[string]models.EventRecord, len(existing))
			for _, r := range existing {
				byID[r.ID] = r
			}
			for _, d := range plan.Deletes {
				r, ok := byID[d.ID]
				if !ok {
					return false
				}
				// Only out-of-range records are deleted.
				if !r.Day.Before(after.StartDate) && !r.Day.After(after.EndDate) {
					return false
				}
				delete(byID, d.ID)
			}
			for _, u := range plan.Updates {
				r, ok := byID[u.Record.ID]
				if !ok || !r.Day.Equal(u.Record.Day) {
					return false
				}
				byID[u.Record.ID] = u.Record
			}

			seen := make(map[string]bool)
			for _, r := range byID {
				seen[r.Day.String()] = true
			}
			for _, c := range plan.Creates {
				if seen[c.Day.String()] {
					// An existing day must be updated, never duplicated.
					return false
				}
				seen[c.Day.String()] = true
			}

			if len(seen) != newLen {
				return false
			}
			for _, d := range calendar.Range(after.StartDate, after.EndDate) {
				if !seen[d.String()] {
					return false
				}
			}
			return true
		},
		gen.IntRange(-20, 20),
		gen.IntRange(1, 15),
		gen.IntRange(-20, 20),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}

func TestProperty_CascadeRemovesOrganizer(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	pool := []string{"home", "work", "gym", "school"}

	properties.Property("sole organizer deletes the record, shared organizer shrinks it", prop.ForAll(
		func(mask int) bool {
			var organizers []string
			for i, id := range pool {
				if mask&(1<<i) != 0 {
					organizers = append(organizers, id)
				}
			}
			rec := models.EventRecord{ID: "r", Name: "x", OrganizerIDs: organizers}
			plan := PlanOrganizerCascade("home", []models.EventRecord{rec})

			switch {
			case !rec.HasOrganizer("home"):
				return plan.Empty()
			case len(organizers) == 1:
				return len(plan.Deletes) == 1 && len(plan.Updates) == 0
			default:
				if len(plan.Updates) != 1 || len(plan.Deletes) != 0 {
					return false
				}
				u := plan.Updates[0].Record
				return !u.HasOrganizer("home") && len(u.OrganizerIDs) == len(organizers)-1 && u.Name == "x"
			}
		},
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}
