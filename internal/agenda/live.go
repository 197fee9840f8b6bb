package agenda

import (
	"sync"

	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/calendar"
	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// Live keeps an agenda current from an events change stream. Records are
// keyed by store id, so a removal drops exactly that record. Days loaded
// through LoadDays stay in every later projection.
type Live struct {
	filter   Filter
	onUpdate func(Agenda)
	logger   *zap.Logger

	mu      sync.Mutex
	records map[string]models.EventRecord
	loaded  map[string]bool
	current Agenda
}

// NewLive returns a Live that calls onUpdate with a fresh agenda after every
// applied batch. onUpdate may be nil.
func NewLive(f Filter, onUpdate func(Agenda), logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{
		filter:   f,
		onUpdate: onUpdate,
		logger:   logger.Named("agenda"),
		records:  make(map[string]models.EventRecord),
		loaded:   make(map[string]bool),
		current:  Agenda{},
	}
}

// Apply folds a change batch in and re-projects.
func (l *Live) Apply(changes []repository.Change) {
	l.mu.Lock()
	for _, c := range changes {
		switch c.Type {
		case repository.Added, repository.Modified:
			r, err := models.DecodeEventRecord(c.ID, c.Data)
			if err != nil {
				l.logger.Warn("Ignoring malformed event record", zap.String("id", c.ID), zap.Error(err))
				continue
			}
			l.records[c.ID] = r
		case repository.Removed:
			delete(l.records, c.ID)
		}
	}
	a := l.project()
	l.mu.Unlock()

	if l.onUpdate != nil {
		l.onUpdate(a)
	}
}

// LoadDays makes sure every day of the window around ref has an entry and
// returns the resulting agenda.
func (l *Live) LoadDays(ref calendar.Day, before, after int) Agenda {
	l.mu.Lock()
	defer l.mu.Unlock()
	if before < 0 {
		before = 0
	}
	for i := -before; i < after; i++ {
		l.loaded[ref.AddDays(i).String()] = true
	}
	return l.project().Clone()
}

// Agenda returns the latest projection.
func (l *Live) Agenda() Agenda {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// project rebuilds current. Called with mu held.
func (l *Live) project() Agenda {
	list := make([]models.EventRecord, 0, len(l.records))
	for _, r := range l.records {
		list = append(list, r)
	}
	a := Project(list, l.filter)
	for day := range l.loaded {
		if _, ok := a[day]; !ok {
			a[day] = []models.EventRecord{}
		}
	}
	l.current = a
	return a.Clone()
}
