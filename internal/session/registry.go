package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// Registry keeps one open Session per signed-in user.
type Registry struct {
	sub    repository.Subscriber
	opts   []Option
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]chan struct{}
	closed   bool
}

// NewRegistry opens sessions on sub with opts.
func NewRegistry(sub repository.Subscriber, logger *zap.Logger, opts ...Option) *Registry {
	return &Registry{
		sub:      sub,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
		opening:  make(map[string]chan struct{}),
	}
}

// Get returns the user's session, opening it on first use. Concurrent first
// calls for the same user share one Open.
func (r *Registry) Get(ctx context.Context, user string) (*Session, error) {
	user = models.NormalizeEmail(user)
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if s, ok := r.sessions[user]; ok {
			r.mu.Unlock()
			return s, nil
		}
		wait, busy := r.opening[user]
		if !busy {
			done := make(chan struct{})
			r.opening[user] = done
			r.mu.Unlock()
			return r.open(ctx, user, done)
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) open(ctx context.Context, user string, done chan struct{}) (*Session, error) {
	s, err := Open(ctx, user, r.sub, r.opts...)

	r.mu.Lock()
	delete(r.opening, user)
	close(done)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.closed {
		r.mu.Unlock()
		s.Close()
		return nil, ErrClosed
	}
	r.sessions[user] = s
	r.mu.Unlock()
	return s, nil
}

// Close ends the user's session, if any.
func (r *Registry) Close(user string) bool {
	user = models.NormalizeEmail(user)
	r.mu.Lock()
	s, ok := r.sessions[user]
	delete(r.sessions, user)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every session. Later Get calls fail with ErrClosed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	r.logger.Info("All sessions closed", zap.Int("count", len(all)))
}
