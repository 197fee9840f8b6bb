package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/agenda"
	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// SweepResponse is the body of every event or organizer sweep.
type SweepResponse struct {
	Status string               `json:"status"`
	Report services.SweepReport `json:"report"`
	Errors []string             `json:"errors,omitempty"`
}

// RespondWithError sends a JSON error response with the given status code and message
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response with the given status code and payload
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("Error marshaling JSON response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

var timeNow = time.Now

type userKey struct{}

// WithUser stores the authenticated email in ctx.
func WithUser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userKey{}, email)
}

// GetUserFromContext returns the authenticated email of the request.
func GetUserFromContext(r *http.Request) string {
	email, _ := r.Context().Value(userKey{}).(string)
	return email
}

// AgendaWindow is the default number of days loaded around the reference day.
type AgendaWindow struct {
	Before int
	After  int
}

// respondServiceError maps a service error to a status code.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *expansion.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, services.ErrForbidden):
		RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrOrganizerNotFound), errors.Is(err, services.ErrSeriesNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrUserExists):
		RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrUnknownUser), errors.Is(err, services.ErrSelfShare):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		RespondWithError(w, http.StatusGatewayTimeout, "Request cancelled")
	default:
		zap.L().Error("Request failed", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// respondSweep answers a sweep: code when every write went through, 500 with
// status "partial" when some failed and the rest stayed in place.
func respondSweep(w http.ResponseWriter, code int, report services.SweepReport, err error) {
	if err == nil {
		RespondWithJSON(w, code, SweepResponse{Status: "ok", Report: report})
		return
	}
	if report.Attempted() == 0 {
		respondServiceError(w, err)
		return
	}
	resp := SweepResponse{Status: "partial", Report: report}
	for _, f := range report.Failures {
		resp.Errors = append(resp.Errors, f.Error())
	}
	if len(resp.Errors) == 0 {
		resp.Errors = []string{err.Error()}
	}
	RespondWithJSON(w, http.StatusInternalServerError, resp)
}

// parseWindow reads ref, before and after from the query string.
func parseWindow(r *http.Request, def AgendaWindow) (calendar.Day, int, int, error) {
	q := r.URL.Query()
	ref := calendar.DayOf(timeNow())
	if v := q.Get("ref"); v != "" {
		d, err := calendar.ParseDay(v)
		if err != nil {
			return calendar.Day{}, 0, 0, &expansion.ValidationError{Field: "ref", Reason: "must be YYYY-MM-DD"}
		}
		ref = d
	}
	before, err := intParam(q.Get("before"), def.Before, "before")
	if err != nil {
		return calendar.Day{}, 0, 0, err
	}
	after, err := intParam(q.Get("after"), def.After, "after")
	if err != nil {
		return calendar.Day{}, 0, 0, err
	}
	return ref, before, after, nil
}

func intParam(v string, def int, field string) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 366 {
		return 0, &expansion.ValidationError{Field: field, Reason: "must be a number between 0 and 366"}
	}
	return n, nil
}

// AgendaResponse lists an agenda's days in order.
type AgendaResponse struct {
	Days   []string      `json:"days"`
	Agenda agenda.Agenda `json:"agenda"`
}

func newAgendaResponse(a agenda.Agenda) AgendaResponse {
	return AgendaResponse{Days: a.Days(), Agenda: a}
}
