package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// UserService keeps the user directory: display names keyed by email.
type UserService struct {
	store  repository.Store
	logger *zap.Logger

	// mu serialises the read-then-write of Register and UpdateUser.
	mu sync.Mutex
}

func NewUserService(store repository.Store, logger *zap.Logger) *UserService {
	return &UserService{
		store:  store,
		logger: logger.Named("user_service"),
	}
}

// Register creates the directory entry for req.Email. An email that is
// already registered is rejected with ErrUserExists.
func (s *UserService) Register(ctx context.Context, req models.UserRequest) (models.User, error) {
	if err := expansion.ValidateStruct(req); err != nil {
		return models.User{}, err
	}
	u := models.User{Email: models.NormalizeEmail(req.Email), Username: req.Username}

	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.exists(ctx, u.Email)
	if err != nil {
		return models.User{}, err
	}
	if exists {
		s.logger.Warn("Rejected duplicate registration", zap.String("email", u.Email))
		return models.User{}, ErrUserExists
	}
	if err := s.save(ctx, u); err != nil {
		return models.User{}, err
	}
	s.logger.Info("User registered", zap.String("email", u.Email))
	return u, nil
}

// UpdateUser replaces the caller's own directory entry.
func (s *UserService) UpdateUser(ctx context.Context, caller string, req models.UserRequest) (models.User, error) {
	if err := expansion.ValidateStruct(req); err != nil {
		return models.User{}, err
	}
	u := models.User{Email: models.NormalizeEmail(req.Email), Username: req.Username}
	if models.NormalizeEmail(caller) != u.Email {
		return models.User{}, ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.exists(ctx, u.Email)
	if err != nil {
		return models.User{}, err
	}
	if !exists {
		return models.User{}, ErrUnknownUser
	}
	if err := s.save(ctx, u); err != nil {
		return models.User{}, err
	}
	s.logger.Info("User updated", zap.String("email", u.Email))
	return u, nil
}

func (s *UserService) exists(ctx context.Context, email string) (bool, error) {
	var existing models.User
	err := s.store.Get(ctx, models.UsersCollection, email, &existing)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
}

func (s *UserService) save(ctx context.Context, u models.User) error {
	if err := s.store.Set(ctx, models.UsersCollection, u.Email, u); err != nil {
		s.logger.Error("Failed to save user",
			zap.String("email", u.Email),
			zap.Error(err))
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Lookup returns the directory entry for email.
func (s *UserService) Lookup(ctx context.Context, email string) (models.User, error) {
	var u models.User
	if err := s.store.Get(ctx, models.UsersCollection, models.NormalizeEmail(email), &u); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.User{}, ErrUnknownUser
		}
		return models.User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}
