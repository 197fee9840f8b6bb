package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

type OrganizerService struct {
	store  repository.Store
	events *EventService
	sweep  *sweeper
	logger *zap.Logger
}

func NewOrganizerService(store repository.Store, events *EventService, logger *zap.Logger, opts ...Option) *OrganizerService {
	o := buildOptions(opts)
	logger = logger.Named("organizer_service")
	return &OrganizerService{
		store:  store,
		events: events,
		sweep:  &sweeper{store: store, logger: logger, opts: o},
		logger: logger,
	}
}

// CreateOrganizer stores a new organizer owned by creator.
func (s *OrganizerService) CreateOrganizer(ctx context.Context, creator string, req models.OrganizerRequest) (models.Organizer, error) {
	if err := expansion.ValidateStruct(req); err != nil {
		return models.Organizer{}, err
	}
	creator = models.NormalizeEmail(creator)
	shared, err := s.shareList(ctx, creator, req.SharedWith)
	if err != nil {
		return models.Organizer{}, err
	}

	org := models.Organizer{Name: req.Name, CreatedBy: creator, SharedWith: shared}
	id, err := s.store.Insert(ctx, models.OrganizersCollection, org)
	if err != nil {
		s.logger.Error("Failed to create organizer",
			zap.String("creator", creator),
			zap.Error(err))
		return models.Organizer{}, fmt.Errorf("failed to create organizer: %w", err)
	}
	org.ID = id

	s.logger.Info("Organizer created",
		zap.String("organizer_id", id),
		zap.String("creator", creator),
		zap.Int("shared_with", len(shared)))
	return org, nil
}

// UpdateSharing replaces the share list. Only the creator may change it.
func (s *OrganizerService) UpdateSharing(ctx context.Context, user, organizerID string, req models.SharingRequest) (models.Organizer, error) {
	if err := expansion.ValidateStruct(req); err != nil {
		return models.Organizer{}, err
	}
	org, err := s.Get(ctx, organizerID)
	if err != nil {
		return models.Organizer{}, err
	}
	user = models.NormalizeEmail(user)
	if org.CreatedBy != user {
		return models.Organizer{}, ErrForbidden
	}
	shared, err := s.shareList(ctx, user, req.SharedWith)
	if err != nil {
		return models.Organizer{}, err
	}
	if err := s.store.Update(ctx, models.OrganizersCollection, organizerID, map[string]any{"sharedWith": shared}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Organizer{}, ErrOrganizerNotFound
		}
		return models.Organizer{}, fmt.Errorf("failed to update sharing: %w", err)
	}
	org.SharedWith = shared
	return org, nil
}

// Get loads one organizer.
func (s *OrganizerService) Get(ctx context.Context, organizerID string) (models.Organizer, error) {
	var org models.Organizer
	if err := s.store.Get(ctx, models.OrganizersCollection, organizerID, &org); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Organizer{}, ErrOrganizerNotFound
		}
		return models.Organizer{}, fmt.Errorf("failed to load organizer: %w", err)
	}
	org.ID = organizerID
	return org, nil
}

// DeleteOrganizer removes the organizer from every event that lists it and
// then deletes the organizer itself. Records left with no organizer are
// deleted. The organizer document is kept when any cascade write failed, so
// the operation can be repeated.
func (s *OrganizerService) DeleteOrganizer(ctx context.Context, user, organizerID string) (SweepReport, error) {
	org, err := s.Get(ctx, organizerID)
	if err != nil {
		return SweepReport{}, err
	}
	if org.CreatedBy != models.NormalizeEmail(user) {
		return SweepReport{}, ErrForbidden
	}

	records, err := s.events.ByOrganizer(ctx, organizerID)
	if err != nil {
		return SweepReport{}, err
	}
	plan := expansion.PlanOrganizerCascade(organizerID, records)

	s.logger.Info("Deleting organizer",
		zap.String("organizer_id", organizerID),
		zap.Int("records_updated", len(plan.Updates)),
		zap.Int("records_deleted", len(plan.Deletes)))

	report := s.sweep.apply(ctx, "organizer_cascade", plan)
	if !report.Succeeded() {
		return report, report.Err()
	}
	if err := s.store.Delete(ctx, models.OrganizersCollection, organizerID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to delete organizer",
			zap.String("organizer_id", organizerID),
			zap.Error(err))
		return report, fmt.Errorf("failed to delete organizer: %w", err)
	}
	return report, nil
}

// shareList normalises emails, drops duplicates and checks every target is a
// registered user other than owner.
func (s *OrganizerService) shareList(ctx context.Context, owner string, emails []string) ([]string, error) {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = models.NormalizeEmail(e)
		if e == "" || seen[e] {
			continue
		}
		if e == owner {
			return nil, ErrSelfShare
		}
		var u models.User
		if err := s.store.Get(ctx, models.UsersCollection, e, &u); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownUser, e)
			}
			return nil, fmt.Errorf("failed to look up user %s: %w", e, err)
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}
