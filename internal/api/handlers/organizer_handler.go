package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agenda-distribuida/family-organizer/internal/agenda"
	"github.com/agenda-distribuida/family-organizer/internal/membership"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

// StaleHeader is set on organizer listings when the caller's live
// subscription has failed; it carries the failure.
const StaleHeader = "X-Organizers-Stale"

// access answers organizer lookups for one request. The caller's live index
// is asked first; organizers it has not caught up with yet are read from
// the store.
type access struct {
	ctx        context.Context
	user       string
	index      *membership.Index
	organizers *services.OrganizerService
}

func (a access) Has(id string) bool {
	if a.index.Has(id) {
		return true
	}
	org, err := a.organizers.Get(a.ctx, id)
	return err == nil && org.VisibleTo(a.user)
}

func requestAccess(r *http.Request, sessions *session.Registry, organizers *services.OrganizerService) (access, error) {
	s, err := sessions.Get(r.Context(), GetUserFromContext(r))
	if err != nil {
		return access{}, err
	}
	return access{ctx: r.Context(), user: s.User(), index: s.Index(), organizers: organizers}, nil
}

// OrganizerHandler handles HTTP requests for organizers and their agendas.
type OrganizerHandler struct {
	organizers *services.OrganizerService
	events     *services.EventService
	sessions   *session.Registry
	window     AgendaWindow
	location   *time.Location
}

// NewOrganizerHandler creates a new OrganizerHandler
func NewOrganizerHandler(organizers *services.OrganizerService, events *services.EventService, sessions *session.Registry, window AgendaWindow, loc *time.Location) *OrganizerHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &OrganizerHandler{
		organizers: organizers,
		events:     events,
		sessions:   sessions,
		window:     window,
		location:   loc,
	}
}

// OrganizerResponse is an organizer with its id.
type OrganizerResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CreatedBy  string   `json:"createdBy"`
	SharedWith []string `json:"sharedWith"`
	Initials   string   `json:"initials"`
}

func toOrganizerResponse(o models.Organizer) OrganizerResponse {
	shared := o.SharedWith
	if shared == nil {
		shared = []string{}
	}
	return OrganizerResponse{
		ID:         o.ID,
		Name:       o.Name,
		CreatedBy:  o.CreatedBy,
		SharedWith: shared,
		Initials:   models.Initials(o.Name),
	}
}

// ListOrganizers returns the organizers visible to the caller, by name.
func (h *OrganizerHandler) ListOrganizers(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), GetUserFromContext(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if err := s.LastError(); err != nil {
		w.Header().Set(StaleHeader, err.Error())
	}
	orgs := s.Organizers()
	resp := make([]OrganizerResponse, len(orgs))
	for i, o := range orgs {
		resp[i] = toOrganizerResponse(o)
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

// CreateOrganizer creates an organizer owned by the caller.
func (h *OrganizerHandler) CreateOrganizer(w http.ResponseWriter, r *http.Request) {
	var req models.OrganizerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	org, err := h.organizers.CreateOrganizer(r.Context(), GetUserFromContext(r), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, toOrganizerResponse(org))
}

// UpdateSharing replaces the share list of {id}.
func (h *OrganizerHandler) UpdateSharing(w http.ResponseWriter, r *http.Request) {
	var req models.SharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	org, err := h.organizers.UpdateSharing(r.Context(), GetUserFromContext(r), mux.Vars(r)["id"], req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, toOrganizerResponse(org))
}

// DeleteOrganizer cascades the deletion of {id} over its events.
func (h *OrganizerHandler) DeleteOrganizer(w http.ResponseWriter, r *http.Request) {
	report, err := h.organizers.DeleteOrganizer(r.Context(), GetUserFromContext(r), mux.Vars(r)["id"])
	respondSweep(w, http.StatusOK, report, err)
}

// visible loads {id} and checks the caller may read it. Hidden organizers
// are reported as missing.
func (h *OrganizerHandler) visible(r *http.Request) (models.Organizer, error) {
	org, err := h.organizers.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return models.Organizer{}, err
	}
	if !org.VisibleTo(models.NormalizeEmail(GetUserFromContext(r))) {
		return models.Organizer{}, services.ErrOrganizerNotFound
	}
	return org, nil
}

// GetAgenda returns the day-grouped events of {id}, with every day of the
// requested window present.
func (h *OrganizerHandler) GetAgenda(w http.ResponseWriter, r *http.Request) {
	ref, before, after, err := parseWindow(r, h.window)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	org, err := h.visible(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	records, err := h.events.ByOrganizer(r.Context(), org.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	a := agenda.Project(records, agenda.Filter{OrganizerID: org.ID}).Extend(ref, before, after)
	RespondWithJSON(w, http.StatusOK, newAgendaResponse(a))
}

// WatchAgenda streams the agenda of {id} as server-sent events. The first
// event carries the requested window; another follows every change to the
// organizer's events until the client leaves or the session closes.
func (h *OrganizerHandler) WatchAgenda(w http.ResponseWriter, r *http.Request) {
	ref, before, after, err := parseWindow(r, h.window)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	org, err := h.visible(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s, err := h.sessions.Get(r.Context(), GetUserFromContext(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	changed := make(chan struct{}, 1)
	live, stop, err := s.WatchAgenda(agenda.Filter{OrganizerID: org.ID}, func(agenda.Agenda) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	defer stop()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(a agenda.Agenda) bool {
		data, err := json.Marshal(newAgendaResponse(a))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: agenda\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(live.LoadDays(ref, before, after)) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.Done():
			return
		case <-changed:
			if !send(live.Agenda()) {
				return
			}
		}
	}
}

// GetCalendar exports the events of {id} as iCalendar.
func (h *OrganizerHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	org, err := h.visible(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	records, err := h.events.ByOrganizer(r.Context(), org.ID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	a := agenda.Project(records, agenda.Filter{OrganizerID: org.ID})
	if err := agenda.WriteICS(&buf, a, org.Name, h.location, timeNow()); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", org.ID+".ics"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
