package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/expansion"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// Option configures the services.
type Option func(*options)

type options struct {
	retries int
	backoff time.Duration
	metrics *metrics.Metrics
	ids     ParentIDGenerator
}

// WithRetries retries each failed write up to n more times, waiting backoff
// between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(o *options) {
		if n > 0 {
			o.retries = n
		}
		o.backoff = backoff
	}
}

// WithMetrics records writes and sweeps on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithParentIDs replaces the clock based parent id generator.
func WithParentIDs(g ParentIDGenerator) Option {
	return func(o *options) { o.ids = g }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ids == nil {
		o.ids = NewClockParentIDs()
	}
	return o
}

// sweeper executes plans against the events collection, one write at a time.
type sweeper struct {
	store  repository.Store
	logger *zap.Logger
	opts   options
}

func (s *sweeper) apply(ctx context.Context, kind string, plan expansion.Plan) SweepReport {
	start := time.Now()
	var report SweepReport

	for _, rec := range plan.Creates {
		rec := rec
		var id string
		err := s.write(ctx, OpCreate, func() error {
			var err error
			id, err = s.store.Insert(ctx, models.EventsCollection, rec)
			return err
		})
		if err != nil {
			report.Failures = append(report.Failures, &WriteFailure{Op: OpCreate, Day: rec.Day.String(), Err: err})
			continue
		}
		report.Created = append(report.Created, id)
	}

	for _, u := range plan.Updates {
		u := u
		err := s.write(ctx, OpUpdate, func() error {
			return s.store.Update(ctx, models.EventsCollection, u.Record.ID, u.Fields)
		})
		if err != nil {
			report.Failures = append(report.Failures, &WriteFailure{
				Op: OpUpdate, Day: u.Record.Day.String(), RecordID: u.Record.ID, Err: err,
			})
			continue
		}
		report.Updated = append(report.Updated, u.Record.ID)
	}

	for _, rec := range plan.Deletes {
		rec := rec
		err := s.write(ctx, OpDelete, func() error {
			err := s.store.Delete(ctx, models.EventsCollection, rec.ID)
			if errors.Is(err, repository.ErrNotFound) {
				// Already gone, possibly by an earlier attempt.
				return nil
			}
			return err
		})
		if err != nil {
			report.Failures = append(report.Failures, &WriteFailure{
				Op: OpDelete, Day: rec.Day.String(), RecordID: rec.ID, Err: err,
			})
			continue
		}
		report.Deleted = append(report.Deleted, rec.ID)
	}

	s.opts.metrics.ObserveSweep(kind, start, !report.Succeeded())
	if !report.Succeeded() {
		s.logger.Warn("Sweep finished with failed writes",
			zap.String("kind", kind),
			zap.Int("attempted", report.Attempted()),
			zap.Int("failed", len(report.Failures)),
			zap.Error(report.Err()))
	} else {
		s.logger.Debug("Sweep finished",
			zap.String("kind", kind),
			zap.Int("created", len(report.Created)),
			zap.Int("updated", len(report.Updated)),
			zap.Int("deleted", len(report.Deleted)))
	}
	return report
}

// write runs fn, retrying transient failures as configured.
func (s *sweeper) write(ctx context.Context, op WriteOp, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		s.opts.metrics.ObserveWrite(string(op), err)
		if err == nil || attempt >= s.opts.retries || !retryable(err) {
			return err
		}
		s.logger.Debug("Retrying write",
			zap.String("op", string(op)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if s.opts.backoff > 0 {
			timer := time.NewTimer(s.opts.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrInvalidDocument),
		errors.Is(err, repository.ErrClosed):
		return false
	}
	return true
}
