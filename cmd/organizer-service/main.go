package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/api"
	"github.com/agenda-distribuida/family-organizer/internal/api/handlers"
	"github.com/agenda-distribuida/family-organizer/internal/config"
	"github.com/agenda-distribuida/family-organizer/internal/database"
	"github.com/agenda-distribuida/family-organizer/internal/events"
	applogger "github.com/agenda-distribuida/family-organizer/internal/logger"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
	"github.com/agenda-distribuida/family-organizer/internal/services"
	"github.com/agenda-distribuida/family-organizer/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := applogger.New(cfg.LogLevel, cfg.LogDir, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	m := metrics.New()
	opts := []services.Option{
		services.WithRetries(cfg.Writes.Retries, cfg.Writes.Backoff),
		services.WithMetrics(m),
	}
	eventService := services.NewEventService(store, logger, opts...)
	organizerService := services.NewOrganizerService(store, eventService, logger, opts...)
	userService := services.NewUserService(store, logger)

	// Sessions follow the local store, or every instance's writes when the
	// Redis change feed is enabled.
	var subscriber repository.Subscriber = store
	if cfg.Redis.Enabled {
		remote, shutdown, err := startChangeFeed(ctx, cfg, store, logger)
		if err != nil {
			logger.Fatal("Failed to start change feed", zap.Error(err))
		}
		defer shutdown()
		subscriber = remote
	}

	collation, err := cfg.Agenda.Language()
	if err != nil {
		logger.Fatal("Invalid agenda locale", zap.Error(err))
	}
	sessions := session.NewRegistry(subscriber, logger,
		session.WithMetrics(m),
		session.WithLanguage(collation),
		session.OnStreamError(func(se *session.StreamError) {
			// The index keeps serving its last state, flagged as stale, until
			// the user signs in again.
			logger.Warn("Live organizer state is stale",
				zap.String("user", se.User),
				zap.String("collection", se.Collection),
				zap.Error(se.Err))
		}),
	)
	defer sessions.CloseAll()

	router := api.NewRouter(api.Deps{
		Users:          userService,
		Organizers:     organizerService,
		Events:         eventService,
		Sessions:       sessions,
		Metrics:        m,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Window:         handlers.AgendaWindow{Before: cfg.Agenda.DaysBefore, After: cfg.Agenda.DaysAfter},
		Location:       time.Local,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting organizer service", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func openStore(cfg *config.Config, logger *zap.Logger) (repository.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on exit")
		store := repository.NewMemoryStore()
		return store, func() { store.Close() }, nil
	}

	db, err := database.New(cfg.Store.DBPath)
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewSQLiteStore(db.DB(), logger)
	logger.Info("Opened SQLite store", zap.String("path", cfg.Store.DBPath))
	return store, func() {
		store.Close()
		if err := db.Close(); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}, nil
}

// startChangeFeed publishes local changes to Redis and returns a subscriber
// fed by the changes every instance publishes.
func startChangeFeed(ctx context.Context, cfg *config.Config, store repository.Store, logger *zap.Logger) (repository.Subscriber, func(), error) {
	client, err := events.NewRedisClient(ctx, cfg.Redis.URL, logger)
	if err != nil {
		return nil, nil, err
	}

	collections := []string{models.OrganizersCollection, models.EventsCollection}
	publisher := events.NewPublisher(client, cfg.Redis.ChannelPrefix, logger)
	if err := publisher.Watch(store, collections...); err != nil {
		client.Close()
		return nil, nil, err
	}

	remote := events.NewRemoteFeed(store, cfg.Redis.ChannelPrefix, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := remote.Run(ctx, client, collections...)
			if ctx.Err() != nil {
				return
			}
			logger.Error("Change feed stopped, reconnecting", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	return remote, func() {
		publisher.Close()
		remote.Close()
		if err := client.Close(); err != nil {
			logger.Error("Error closing Redis client", zap.Error(err))
		}
		<-done
	}, nil
}
