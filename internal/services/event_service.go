// Package services executes event and organizer operations against the
// document store.
package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

type EventService struct {
	store  repository.Store
	sweep  *sweeper
	ids    ParentIDGenerator
	logger *zap.Logger
}

func NewEventService(store repository.Store, logger *zap.Logger, opts ...Option) *EventService {
	o := buildOptions(opts)
	logger = logger.Named("event_service")
	return &EventService{
		store:  store,
		sweep:  &sweeper{store: store, logger: logger, opts: o},
		ids:    o.ids,
		logger: logger,
	}
}

// CreateEvent validates ev, gives it a fresh parent id and writes one record
// per day. The returned error is a *expansion.ValidationError when nothing
// was written, or the aggregated write failures of a partial sweep; the
// report is filled in either way.
func (s *EventService) CreateEvent(ctx context.Context, ev models.LogicalEvent, organizers expansion.OrganizerSet) (SweepReport, error) {
	ev.ParentEventID = 0
	if err := expansion.Validate(ev, organizers); err != nil {
		return SweepReport{}, err
	}
	ev.ParentEventID = s.ids.Next()

	s.logger.Info("Creating event",
		zap.Int64("parent_event_id", ev.ParentEventID),
		zap.String("creator", ev.CreatorID),
		zap.String("start_date", ev.StartDate.String()),
		zap.String("end_date", ev.EndDate.String()))

	report := s.sweep.apply(ctx, "create", expansion.Plan{Creates: expansion.Expand(ev)})
	report.ParentEventID = ev.ParentEventID
	return report, report.Err()
}

// EditEvent reconciles existing, the stored records of ev's series, with
// ev's new fields and date range.
func (s *EventService) EditEvent(ctx context.Context, ev models.LogicalEvent, existing []models.EventRecord, organizers expansion.OrganizerSet) (SweepReport, error) {
	if ev.IsNew() {
		return SweepReport{}, &expansion.ValidationError{Field: "parentEventId", Reason: "is required to edit an event"}
	}
	if len(existing) > 0 {
		ev.CreatorID = existing[0].CreatorID
		ev.CreatorName = existing[0].CreatorName
	}
	if err := expansion.Validate(ev, organizers); err != nil {
		return SweepReport{}, err
	}
	plan, err := expansion.PlanEdit(ev, existing)
	if err != nil {
		return SweepReport{}, err
	}

	s.logger.Info("Editing event",
		zap.Int64("parent_event_id", ev.ParentEventID),
		zap.Int("creates", len(plan.Creates)),
		zap.Int("updates", len(plan.Updates)),
		zap.Int("deletes", len(plan.Deletes)))

	report := s.sweep.apply(ctx, "edit", plan)
	report.ParentEventID = ev.ParentEventID
	return report, report.Err()
}

// DeleteEvent deletes every record of the series.
func (s *EventService) DeleteEvent(ctx context.Context, parentID int64) (SweepReport, error) {
	existing, err := s.Series(ctx, parentID)
	if err != nil {
		return SweepReport{}, err
	}
	if len(existing) == 0 {
		return SweepReport{}, ErrSeriesNotFound
	}

	s.logger.Info("Deleting event",
		zap.Int64("parent_event_id", parentID),
		zap.Int("records", len(existing)))

	report := s.sweep.apply(ctx, "delete", expansion.PlanDelete(parentID, existing))
	report.ParentEventID = parentID
	return report, report.Err()
}

// Series returns the stored records of one event in day order.
func (s *EventService) Series(ctx context.Context, parentID int64) ([]models.EventRecord, error) {
	records, err := s.query(ctx, repository.Eq("parentEventId", parentID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Day.Before(records[j].Day) })
	return records, nil
}

// LogicalEvent reassembles the event behind a series.
func (s *EventService) LogicalEvent(ctx context.Context, parentID int64) (models.LogicalEvent, error) {
	records, err := s.Series(ctx, parentID)
	if err != nil {
		return models.LogicalEvent{}, err
	}
	ev, ok := expansion.Reassemble(records)
	if !ok {
		return models.LogicalEvent{}, ErrSeriesNotFound
	}
	return ev, nil
}

// ByOrganizer returns every record that lists organizerID.
func (s *EventService) ByOrganizer(ctx context.Context, organizerID string) ([]models.EventRecord, error) {
	return s.query(ctx, repository.ArrayContains("organizers", organizerID))
}

// ByCreator returns every record created by user.
func (s *EventService) ByCreator(ctx context.Context, user string) ([]models.EventRecord, error) {
	return s.query(ctx, repository.Eq("creator", user))
}

func (s *EventService) query(ctx context.Context, filters ...repository.Filter) ([]models.EventRecord, error) {
	docs, err := s.store.Query(ctx, models.EventsCollection, filters...)
	if err != nil {
		s.logger.Error("Failed to query events", zap.Error(err))
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	records := make([]models.EventRecord, 0, len(docs))
	for _, d := range docs {
		r, err := models.DecodeEventRecord(d.ID, d.Data)
		if err != nil {
			s.logger.Warn("Skipping undecodable event record", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
