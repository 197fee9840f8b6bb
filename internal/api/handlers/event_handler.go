package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/agenda"
	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

// EventHandler handles HTTP requests for multi-day events.
type EventHandler struct {
	events     *services.EventService
	organizers *services.OrganizerService
	users      *services.UserService
	sessions   *session.Registry
	window     AgendaWindow
	logger     *zap.Logger
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(events *services.EventService, organizers *services.OrganizerService, users *services.UserService, sessions *session.Registry, window AgendaWindow, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		events:     events,
		organizers: organizers,
		users:      users,
		sessions:   sessions,
		window:     window,
		logger:     logger.Named("event_handler"),
	}
}

func parentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["parentId"], 10, 64)
	if err != nil || id <= 0 {
		return 0, &expansion.ValidationError{Field: "parentEventId", Reason: "must be a positive integer"}
	}
	return id, nil
}

// ownedSeries loads the series of {parentId} and checks the caller created
// it.
func (h *EventHandler) ownedSeries(r *http.Request) (int64, []models.EventRecord, error) {
	id, err := parentID(r)
	if err != nil {
		return 0, nil, err
	}
	existing, err := h.events.Series(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}
	if len(existing) == 0 {
		return 0, nil, services.ErrSeriesNotFound
	}
	if existing[0].CreatorID != models.NormalizeEmail(GetUserFromContext(r)) {
		return 0, nil, services.ErrForbidden
	}
	return id, existing, nil
}

// CreateEvent expands the posted event into one record per day.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.LogicalEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	acc, err := requestAccess(r, h.sessions, h.organizers)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	ev.CreatorID = acc.user
	ev.CreatorName = ""
	if u, err := h.users.Lookup(r.Context(), acc.user); err == nil {
		ev.CreatorName = u.Username
	} else if !errors.Is(err, services.ErrUnknownUser) {
		h.logger.Warn("Failed to look up creator name", zap.String("user", acc.user), zap.Error(err))
	}

	report, err := h.events.CreateEvent(r.Context(), ev, acc)
	respondSweep(w, http.StatusCreated, report, err)
}

// GetEvent returns the logical event behind {parentId}.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parentID(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	ev, err := h.events.LogicalEvent(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	acc, err := requestAccess(r, h.sessions, h.organizers)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if ev.CreatorID != acc.user && !anyVisible(acc, ev.OrganizerIDs) {
		respondServiceError(w, services.ErrSeriesNotFound)
		return
	}
	RespondWithJSON(w, http.StatusOK, ev)
}

func anyVisible(acc access, ids []string) bool {
	for _, id := range ids {
		if acc.Has(id) {
			return true
		}
	}
	return false
}

// EditEvent reconciles the stored series of {parentId} with the posted event.
func (h *EventHandler) EditEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.LogicalEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	id, existing, err := h.ownedSeries(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	acc, err := requestAccess(r, h.sessions, h.organizers)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	ev.ParentEventID = id
	report, err := h.events.EditEvent(r.Context(), ev, existing, acc)
	respondSweep(w, http.StatusOK, report, err)
}

// DeleteEvent deletes every record of {parentId}.
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.ownedSeries(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	report, err := h.events.DeleteEvent(r.Context(), id)
	respondSweep(w, http.StatusOK, report, err)
}

// Timeline returns the caller's own events grouped by day.
func (h *EventHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	ref, before, after, err := parseWindow(r, h.window)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	user := models.NormalizeEmail(GetUserFromContext(r))
	records, err := h.events.ByCreator(r.Context(), user)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	a := agenda.Project(records, agenda.Filter{CreatorID: user}).Extend(ref, before, after)
	RespondWithJSON(w, http.StatusOK, newAgendaResponse(a))
}
