// Package api exposes the organizer service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/api/handlers"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Users          *services.UserService
	Organizers     *services.OrganizerService
	Events         *services.EventService
	Sessions       *session.Registry
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	JWTSecret      string
	AllowedOrigins []string
	Window         handlers.AgendaWindow
	Location       *time.Location
}

// NewRouter builds the routes under /api/v1 and wraps them with CORS.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger.Named("http")

	userHandler := handlers.NewUserHandler(d.Users, d.Sessions)
	organizerHandler := handlers.NewOrganizerHandler(d.Organizers, d.Events, d.Sessions, d.Window, d.Location)
	eventHandler := handlers.NewEventHandler(d.Events, d.Organizers, d.Users, d.Sessions, d.Window, logger)

	r := mux.NewRouter()
	r.Use(recoveryMiddleware(logger))
	r.Use(loggingMiddleware(logger, d.Metrics))

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	}

	// API versioning
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "organizer-service"})
	}).Methods("GET")
	api.HandleFunc("/users", userHandler.Register).Methods("POST")

	protected := api.NewRoute().Subrouter()
	protected.Use(authMiddleware(d.JWTSecret))

	// User routes
	protected.HandleFunc("/users/{email}", userHandler.GetUser).Methods("GET")
	protected.HandleFunc("/users/{email}", userHandler.UpdateUser).Methods("PUT")
	protected.HandleFunc("/logout", userHandler.Logout).Methods("POST")

	// Organizer routes
	protected.HandleFunc("/organizers", organizerHandler.ListOrganizers).Methods("GET")
	protected.HandleFunc("/organizers", organizerHandler.CreateOrganizer).Methods("POST")
	protected.HandleFunc("/organizers/{id}/sharing", organizerHandler.UpdateSharing).Methods("PUT")
	protected.HandleFunc("/organizers/{id}", organizerHandler.DeleteOrganizer).Methods("DELETE")
	protected.HandleFunc("/organizers/{id}/agenda", organizerHandler.GetAgenda).Methods("GET")
	protected.HandleFunc("/organizers/{id}/agenda/watch", organizerHandler.WatchAgenda).Methods("GET")
	protected.HandleFunc("/organizers/{id}/calendar.ics", organizerHandler.GetCalendar).Methods("GET")

	// Event routes
	protected.HandleFunc("/timeline", eventHandler.Timeline).Methods("GET")
	protected.HandleFunc("/events", eventHandler.CreateEvent).Methods("POST")
	protected.HandleFunc("/events/{parentId:[0-9]+}", eventHandler.GetEvent).Methods("GET")
	protected.HandleFunc("/events/{parentId:[0-9]+}", eventHandler.EditEvent).Methods("PUT")
	protected.HandleFunc("/events/{parentId:[0-9]+}", eventHandler.DeleteEvent).Methods("DELETE")

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", UserHeader},
		AllowCredentials: true,
	}).Handler(r)
}
