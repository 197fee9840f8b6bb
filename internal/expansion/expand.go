package expansion

import (
	"sort"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

// Expand returns one record per day of ev's date range, in day order. The
// records carry no store id.
func Expand(ev models.LogicalEvent) []models.EventRecord {
	days := calendar.Range(ev.StartDate, ev.EndDate)
	records := make([]models.EventRecord, 0, len(days))
	for i, d := range days {
		records = append(records, dayRecord(ev, d, i == len(days)-1))
	}
	return records
}

// dayRecord builds the record for day d. On the last day of the range the
// series end field carries the day itself, on every other day the event's
// end date. Stored data relies on this shape, so keep it.
func dayRecord(ev models.LogicalEvent, d calendar.Day, last bool) models.EventRecord {
	organizers := make([]string, len(ev.OrganizerIDs))
	copy(organizers, ev.OrganizerIDs)
	return models.EventRecord{
		ParentEventID:     ev.ParentEventID,
		Day:               d,
		StartDateOfSeries: ev.StartDate,
		EndDateOfSeries:   seriesEnd(ev, d, last),
		StartTime:         ev.StartTime,
		EndTime:           ev.EndTime,
		Name:              ev.Name,
		Description:       ev.Description,
		Color:             ev.Color,
		CreatorID:         ev.CreatorID,
		CreatorName:       ev.CreatorName,
		OrganizerIDs:      organizers,
	}
}

func seriesEnd(ev models.LogicalEvent, d calendar.Day, last bool) calendar.Day {
	if last {
		return d
	}
	return ev.EndDate
}

// Reassemble rebuilds the logical event behind a series of day records.
// Shared fields come from the earliest day; the range spans the earliest
// series start to the latest series end seen on any record. ok is false for
// an empty series.
func Reassemble(records []models.EventRecord) (ev models.LogicalEvent, ok bool) {
	if len(records) == 0 {
		return models.LogicalEvent{}, false
	}
	sorted := make([]models.EventRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	first := sorted[0]
	start, end := first.StartDateOfSeries, first.EndDateOfSeries
	for _, r := range sorted {
		if start.IsZero() || (!r.StartDateOfSeries.IsZero() && r.StartDateOfSeries.Before(start)) {
			start = r.StartDateOfSeries
		}
		if r.EndDateOfSeries.After(end) {
			end = r.EndDateOfSeries
		}
		if r.Day.After(end) {
			end = r.Day
		}
	}
	if start.IsZero() || first.Day.Before(start) {
		start = first.Day
	}

	organizers := make([]string, len(first.OrganizerIDs))
	copy(organizers, first.OrganizerIDs)
	return models.LogicalEvent{
		ParentEventID: first.ParentEventID,
		Name:          first.Name,
		Description:   first.Description,
		Color:         first.Color,
		StartDate:     start,
		EndDate:       end,
		StartTime:     first.StartTime,
		EndTime:       first.EndTime,
		CreatorID:     first.CreatorID,
		CreatorName:   first.CreatorName,
		OrganizerIDs:  organizers,
	}, true
}
