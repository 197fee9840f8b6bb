// Package membership keeps the organizers visible to one user, fed by the
// organizers change stream.
package membership

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

type entry struct {
	org models.Organizer
	seq uint64
}

// Index maps organizer id to organizer for the organizers the user created or
// was shared with. Writes come from a single change-stream handler; readers
// get an immutable snapshot that is swapped after each applied batch.
type Index struct {
	user   string
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[string]entry
	seq      uint64
	collator *collate.Collator

	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	sorted []models.Organizer
	byID   map[string]models.Organizer
}

// Option configures an Index.
type Option func(*Index)

// WithLogger logs ignored or malformed changes.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l.Named("membership") }
}

// WithLanguage sorts names with the collation rules of tag.
func WithLanguage(tag language.Tag) Option {
	return func(ix *Index) { ix.collator = collate.New(tag) }
}

// New returns an empty index for user. The user is compared after email
// normalisation.
func New(user string, opts ...Option) *Index {
	ix := &Index{
		user:     models.NormalizeEmail(user),
		logger:   zap.NewNop(),
		entries:  make(map[string]entry),
		collator: collate.New(language.Und),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.snap.Store(&snapshot{byID: map[string]models.Organizer{}})
	return ix
}

// User returns the user the index is built for.
func (ix *Index) User() string { return ix.user }

// Apply folds one change batch into the index. Added and modified documents
// are kept when the user can see them and dropped otherwise; removed ones are
// dropped. Re-applying a change is harmless.
func (ix *Index) Apply(changes []repository.Change) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dirty := false
	for _, c := range changes {
		switch c.Type {
		case repository.Added, repository.Modified:
			org, err := models.DecodeOrganizer(c.ID, c.Data)
			if err != nil {
				ix.logger.Warn("Ignoring malformed organizer", zap.String("id", c.ID), zap.Error(err))
				continue
			}
			if org.VisibleTo(ix.user) {
				ix.upsert(org)
			} else {
				ix.remove(c.ID)
			}
			dirty = true
		case repository.Removed:
			ix.remove(c.ID)
			dirty = true
		default:
			ix.logger.Warn("Ignoring unknown change type", zap.String("type", string(c.Type)))
		}
	}
	if dirty {
		ix.publish()
	}
}

func (ix *Index) upsert(org models.Organizer) {
	if e, ok := ix.entries[org.ID]; ok {
		e.org = org
		ix.entries[org.ID] = e
		return
	}
	ix.seq++
	ix.entries[org.ID] = entry{org: org, seq: ix.seq}
}

func (ix *Index) remove(id string) {
	delete(ix.entries, id)
}

// publish rebuilds the snapshot. Called with mu held; the collator is not
// safe for concurrent use.
func (ix *Index) publish() {
	list := make([]entry, 0, len(ix.entries))
	byID := make(map[string]models.Organizer, len(ix.entries))
	for id, e := range ix.entries {
		list = append(list, e)
		byID[id] = e.org
	}
	sort.Slice(list, func(i, j int) bool {
		if c := ix.collator.CompareString(list[i].org.Name, list[j].org.Name); c != 0 {
			return c < 0
		}
		return list[i].seq < list[j].seq
	})
	sorted := make([]models.Organizer, len(list))
	for i, e := range list {
		sorted[i] = e.org
	}
	ix.snap.Store(&snapshot{sorted: sorted, byID: byID})
}

// Snapshot returns the organizers sorted by name, ties in the order they
// first appeared. The slice is shared between callers and must not be
// modified.
func (ix *Index) Snapshot() []models.Organizer {
	return ix.snap.Load().sorted
}

// Has reports whether id is visible to the user.
func (ix *Index) Has(id string) bool {
	_, ok := ix.snap.Load().byID[id]
	return ok
}

// Get returns the organizer with id.
func (ix *Index) Get(id string) (models.Organizer, bool) {
	org, ok := ix.snap.Load().byID[id]
	return org, ok
}

func (ix *Index) Len() int {
	return len(ix.snap.Load().sorted)
}
