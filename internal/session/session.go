// Package session scopes the live state of one signed-in user: the organizer
// membership index and any agenda watches. It is opened at login and closed
// at logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/agenda-distribuida/family-organizer/internal/agenda"
	"github.com/agenda-distribuida/family-organizer/internal/membership"
	"github.com/agenda-distribuida/family-organizer/internal/metrics"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session is closed")

// StreamError reports a failed live subscription. The state built from the
// stream so far is kept.
type StreamError struct {
	User       string
	Collection string
	Err        error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream: %v", e.Collection, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLanguage sorts the session's organizers with the collation of tag.
func WithLanguage(tag language.Tag) Option {
	return func(s *Session) { s.indexOpts = append(s.indexOpts, membership.WithLanguage(tag)) }
}

// OnStreamError registers a callback for subscription failures.
func OnStreamError(fn func(*StreamError)) Option {
	return func(s *Session) { s.onStreamError = fn }
}

// Session holds one user's subscriptions.
type Session struct {
	user          string
	sub           repository.Subscriber
	index         *membership.Index
	logger        *zap.Logger
	metrics       *metrics.Metrics
	onStreamError func(*StreamError)
	indexOpts     []membership.Option

	mu      sync.Mutex
	unsubs  []repository.Unsubscribe
	lastErr *StreamError
	closed  bool
	done    chan struct{}
}

// Open subscribes a fresh membership index for user to the organizers
// collection and waits for the first batch, so the index is loaded when Open
// returns.
func Open(ctx context.Context, user string, sub repository.Subscriber, opts ...Option) (*Session, error) {
	s := &Session{
		user:   models.NormalizeEmail(user),
		sub:    sub,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session").With(zap.String("user", s.user))
	s.index = membership.New(s.user, append([]membership.Option{membership.WithLogger(s.logger)}, s.indexOpts...)...)

	loaded := make(chan struct{})
	var once sync.Once
	unsub, err := sub.Subscribe(models.OrganizersCollection, nil, repository.Handler{
		OnChange: func(changes []repository.Change) {
			s.observe(models.OrganizersCollection, changes)
			s.index.Apply(changes)
			once.Do(func() { close(loaded) })
		},
		OnError: s.streamError(models.OrganizersCollection),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to organizers: %w", err)
	}
	s.unsubs = append(s.unsubs, unsub)

	select {
	case <-loaded:
	case <-ctx.Done():
		unsub()
		return nil, ctx.Err()
	}

	s.logger.Info("Session opened", zap.Int("organizers", s.index.Len()))
	return s, nil
}

// User returns the normalised email of the session user.
func (s *Session) User() string { return s.user }

// Index returns the membership index. It satisfies expansion.OrganizerSet.
func (s *Session) Index() *membership.Index { return s.index }

// Organizers returns the visible organizers sorted by name.
func (s *Session) Organizers() []models.Organizer { return s.index.Snapshot() }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastError returns the most recent stream failure, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return nil
	}
	return s.lastErr
}

// WatchAgenda keeps an agenda of the events matching f current and calls
// onUpdate after every change batch. The watch ends with the returned
// function or when the session closes.
func (s *Session) WatchAgenda(f agenda.Filter, onUpdate func(agenda.Agenda)) (*agenda.Live, repository.Unsubscribe, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}

	var filters []repository.Filter
	if f.OrganizerID != "" {
		filters = append(filters, repository.ArrayContains("organizers", f.OrganizerID))
	}
	if f.CreatorID != "" {
		filters = append(filters, repository.Eq("creator", f.CreatorID))
	}

	live := agenda.NewLive(f, onUpdate, s.logger)
	unsub, err := s.sub.Subscribe(models.EventsCollection, filters, repository.Handler{
		OnChange: func(changes []repository.Change) {
			s.observe(models.EventsCollection, changes)
			live.Apply(changes)
		},
		OnError: s.streamError(models.EventsCollection),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsub()
		return nil, nil, ErrClosed
	}
	s.unsubs = append(s.unsubs, unsub)
	return live, unsub, nil
}

// Close cancels every subscription of the session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.logger.Info("Session closed")
}

func (s *Session) observe(collection string, changes []repository.Change) {
	for _, c := range changes {
		s.metrics.ObserveChange(collection, string(c.Type))
	}
}

func (s *Session) streamError(collection string) func(error) {
	return func(err error) {
		se := &StreamError{User: s.user, Collection: collection, Err: err}
		s.mu.Lock()
		s.lastErr = se
		s.mu.Unlock()

		s.metrics.ObserveStreamError(collection)
		s.logger.Error("Live subscription failed",
			zap.String("collection", collection),
			zap.Error(err))
		if s.onStreamError != nil {
			s.onStreamError(se)
		}
	}
}
