package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

// UserHandler handles the user directory and logout.
type UserHandler struct {
	users    *services.UserService
	sessions *session.Registry
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users *services.UserService, sessions *session.Registry) *UserHandler {
	return &UserHandler{users: users, sessions: sessions}
}

// Register adds a directory entry. Taken emails answer 409.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	u, err := h.users.Register(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, u)
}

// UpdateUser replaces the caller's own entry at {email}.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req models.UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	email := mux.Vars(r)["email"]
	if req.Email == "" {
		req.Email = email
	}
	if models.NormalizeEmail(req.Email) != models.NormalizeEmail(email) {
		RespondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: "email does not match the path", Field: "email"})
		return
	}

	u, err := h.users.UpdateUser(r.Context(), GetUserFromContext(r), req)
	if err != nil {
		if errors.Is(err, services.ErrUnknownUser) {
			RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		respondServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, u)
}

// GetUser returns the directory entry of {email}.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Lookup(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		if errors.Is(err, services.ErrUnknownUser) {
			RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		respondServiceError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, u)
}

// Logout closes the caller's live session.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Close(GetUserFromContext(r))
	w.WriteHeader(http.StatusNoContent)
}
