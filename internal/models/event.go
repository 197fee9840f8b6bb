package models

import (
	"encoding/json"
	"fmt"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
)

// Collection names in the document store.
const (
	EventsCollection     = "events"
	OrganizersCollection = "organizers"
	UsersCollection      = "userData"
)

// Palette is the fixed set of event colours, in the order the client offers
// them.
var Palette = []string{"purple", "red", "blue", "green", "yellow", "orange", "pink"}

// IsPaletteColor reports whether c belongs to Palette.
func IsPaletteColor(c string) bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// LogicalEvent is the user's multi-day event before it is expanded into
// per-day records. It is never persisted as such.
type LogicalEvent struct {
	// ParentEventID is zero for an event that has not been created yet.
	ParentEventID int64        `json:"parentEventId,omitempty"`
	Name          string       `json:"name" validate:"required"`
	Description   string       `json:"description"`
	Color         string       `json:"color" validate:"required,palette"`
	StartDate     calendar.Day `json:"startDate"`
	EndDate       calendar.Day `json:"endDate"`
	StartTime     string       `json:"startTime" validate:"required,clock"`
	EndTime       string       `json:"endTime" validate:"required,clock"`
	CreatorID     string       `json:"creatorId" validate:"required"`
	CreatorName   string       `json:"creatorName,omitempty"`
	OrganizerIDs  []string     `json:"organizerIds" validate:"required,min=1,unique,dive,required"`
}

// IsNew reports whether the event still needs a parent id.
func (e LogicalEvent) IsNew() bool { return e.ParentEventID == 0 }

// EventRecord is the persisted unit: one calendar day of a LogicalEvent.
// JSON names follow the stored document shape of the events collection.
type EventRecord struct {
	ID                string       `json:"-"`
	ParentEventID     int64        `json:"parentEventId"`
	Day               calendar.Day `json:"day"`
	StartDateOfSeries calendar.Day `json:"start_date"`
	EndDateOfSeries   calendar.Day `json:"end_date"`
	StartTime         string       `json:"start_time"`
	EndTime           string       `json:"end_time"`
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	Color             string       `json:"color"`
	CreatorID         string       `json:"creator"`
	CreatorName       string       `json:"username,omitempty"`
	OrganizerIDs      []string     `json:"organizers"`
}

// HasOrganizer reports whether id is among the record's organizers.
func (r EventRecord) HasOrganizer(id string) bool {
	for _, o := range r.OrganizerIDs {
		if o == id {
			return true
		}
	}
	return false
}

// SharedFields returns the partial document written when an existing day of
// a series is updated in place. The day itself is never part of it.
func (r EventRecord) SharedFields() map[string]any {
	organizers := make([]string, len(r.OrganizerIDs))
	copy(organizers, r.OrganizerIDs)
	return map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"color":       r.Color,
		"start_time":  r.StartTime,
		"end_time":    r.EndTime,
		"start_date":  r.StartDateOfSeries.String(),
		"end_date":    r.EndDateOfSeries.String(),
		"organizers":  organizers,
		"username":    r.CreatorName,
	}
}

// DecodeEventRecord reads a stored events document.
func DecodeEventRecord(id string, data []byte) (EventRecord, error) {
	var r EventRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return EventRecord{}, fmt.Errorf("decode event record %s: %w", id, err)
	}
	r.ID = id
	return r, nil
}
