// Package expansion turns a logical event into per-day records and plans the
// writes that bring stored records in line with an edited event. It never
// talks to the store; internal/services executes the plans.
package expansion

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
)

// ValidationError rejects an event before any write is issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MaxSpanDays bounds how many days one event may cover.
const MaxSpanDays = 366

// OrganizerSet is the universe of organizer ids an event may reference.
type OrganizerSet interface {
	Has(id string) bool
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("palette", func(fl validator.FieldLevel) bool {
		return models.IsPaletteColor(fl.Field().String())
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return calendar.ValidClock(fl.Field().String())
	})
	return v
}

// Validate checks ev. When organizers is non-nil every organizer id must be
// known to it.
func Validate(ev models.LogicalEvent, organizers OrganizerSet) error {
	if err := ValidateStruct(ev); err != nil {
		return err
	}

	if ev.StartDate.IsZero() {
		return &ValidationError{Field: "startDate", Reason: "is required"}
	}
	if ev.EndDate.IsZero() {
		return &ValidationError{Field: "endDate", Reason: "is required"}
	}
	if ev.EndDate.Before(ev.StartDate) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	if !ev.EndDate.Before(ev.StartDate.AddDays(MaxSpanDays)) {
		return &ValidationError{Field: "endDate", Reason: fmt.Sprintf("event may span at most %d days", MaxSpanDays)}
	}
	// Zero-padded HH:MM compares chronologically as a string.
	if ev.EndTime < ev.StartTime {
		return &ValidationError{Field: "endTime", Reason: "must not be before startTime"}
	}

	if organizers != nil {
		for _, id := range ev.OrganizerIDs {
			if !organizers.Has(id) {
				return &ValidationError{Field: "organizerIds", Reason: fmt.Sprintf("unknown organizer %q", id)}
			}
		}
	}
	return nil
}

// ValidateStruct runs the struct tags of v and reports the first failing
// field as a *ValidationError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Reason: reasonFor(fe)}
	}
	return &ValidationError{Field: "request", Reason: err.Error()}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must not be empty"
	case "unique":
		return "must not contain duplicates"
	case "email":
		return "must be a valid email address"
	case "palette":
		return fmt.Sprintf("must be one of %s", strings.Join(models.Palette, ", "))
	case "clock":
		return "must be a zero-padded HH:MM time"
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}
