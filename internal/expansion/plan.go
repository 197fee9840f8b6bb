package expansion

import (
	"fmt"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

// Update is an in-place change to a stored record. Record is the record as
// it will read after the write; Fields is the partial document to write.
type Update struct {
	Record models.EventRecord
	Fields map[string]any
}

// Plan is the set of writes of one reconciliation sweep. The day sets of
// Creates and Deletes are disjoint, so the writes may run in any order.
type Plan struct {
	Creates []models.EventRecord
	Updates []Update
	Deletes []models.EventRecord
}

// Empty reports whether the plan issues no writes.
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Len returns the number of writes in the plan.
func (p Plan) Len() int {
	return len(p.Creates) + len(p.Updates) + len(p.Deletes)
}

// PlanEdit reconciles existing, the stored records of ev's series, against
// ev's current date range: days still in range are updated in place, missing
// days are created and everything else is deleted. When two records claim the
// same day the first one wins and the rest are deleted.
func PlanEdit(ev models.LogicalEvent, existing []models.EventRecord) (Plan, error) {
	if ev.IsNew() {
		return Plan{}, &ValidationError{Field: "parentEventId", Reason: "is required to edit an event"}
	}
	days := calendar.Range(ev.StartDate, ev.EndDate)
	if len(days) == 0 {
		return Plan{}, &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	for _, r := range existing {
		if r.ParentEventID != ev.ParentEventID {
			return Plan{}, &ValidationError{
				Field:  "parentEventId",
				Reason: fmt.Sprintf("record %s belongs to series %d", r.ID, r.ParentEventID),
			}
		}
	}

	inRange := make(map[string]bool, len(days))
	for _, d := range days {
		inRange[d.String()] = true
	}

	kept := make(map[string]models.EventRecord, len(days))
	var plan Plan
	for _, r := range existing {
		key := r.Day.String()
		if !inRange[key] {
			plan.Deletes = append(plan.Deletes, r)
			continue
		}
		if _, dup := kept[key]; dup {
			plan.Deletes = append(plan.Deletes, r)
			continue
		}
		kept[key] = r
	}

	last := days[len(days)-1]
	for _, d := range days {
		next := dayRecord(ev, d, d.Equal(last))
		old, ok := kept[d.String()]
		if !ok {
			plan.Creates = append(plan.Creates, next)
			continue
		}
		// The series keeps its creator across edits.
		next.ID = old.ID
		next.CreatorID = old.CreatorID
		next.CreatorName = old.CreatorName
		plan.Updates = append(plan.Updates, Update{Record: next, Fields: next.SharedFields()})
	}
	return plan, nil
}

// PlanDelete deletes every record of the series parentID. Records of other
// series are ignored.
func PlanDelete(parentID int64, existing []models.EventRecord) Plan {
	var plan Plan
	for _, r := range existing {
		if r.ParentEventID == parentID {
			plan.Deletes = append(plan.Deletes, r)
		}
	}
	return plan
}

// PlanOrganizerCascade removes organizerID from every record that references
// it. A record left without organizers is deleted instead.
func PlanOrganizerCascade(organizerID string, records []models.EventRecord) Plan {
	var plan Plan
	for _, r := range records {
		if !r.HasOrganizer(organizerID) {
			continue
		}
		remaining := make([]string, 0, len(r.OrganizerIDs))
		for _, id := range r.OrganizerIDs {
			if id != organizerID {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			plan.Deletes = append(plan.Deletes, r)
			continue
		}
		next := r
		next.OrganizerIDs = remaining
		plan.Updates = append(plan.Updates, Update{
			Record: next,
			Fields: map[string]any{"organizers": remaining},
		})
	}
	return plan
}
