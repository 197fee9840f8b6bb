package membership

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/agenda-distribuida/family-organizer/internal/models"
	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

const me = "ana@example.com"

func change(t repository.ChangeType, id, name, createdBy string, sharedWith ...string) repository.Change {
	data, err := json.Marshal(models.Organizer{Name: name, CreatedBy: createdBy, SharedWith: sharedWith})
	if err != nil {
		panic(err)
	}
	return repository.Change{Type: t, ID: id, Data: data}
}

func names(orgs []models.Organizer) []string {
	out := make([]string, len(orgs))
	for i, o := range orgs {
		out[i] = o.Name
	}
	return out
}

func TestApply_KeepsOwnAndSharedOrganizers(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{
		change(repository.Added, "1", "Work", me),
		change(repository.Added, "2", "Family", "bob@example.com", me),
		change(repository.Added, "3", "Bob only", "bob@example.com"),
	})

	assert.Equal(t, []string{"Family", "Work"}, names(ix.Snapshot()))
	assert.True(t, ix.Has("1"))
	assert.True(t, ix.Has("2"))
	assert.False(t, ix.Has("3"))
	assert.Equal(t, 2, ix.Len())

	org, ok := ix.Get("2")
	require.True(t, ok)
	assert.Equal(t, "2", org.ID)
	assert.Equal(t, "bob@example.com", org.CreatedBy)
}

func TestSnapshot_SortsWithLanguageCollation(t *testing.T) {
	batch := []repository.Change{
		change(repository.Added, "1", "Zoo", me),
		change(repository.Added, "2", "Örebro", me),
		change(repository.Added, "3", "Oslo", me),
	}

	root := New(me)
	root.Apply(batch)
	assert.Equal(t, []string{"Örebro", "Oslo", "Zoo"}, names(root.Snapshot()))

	swedish := New(me, WithLanguage(language.Swedish))
	swedish.Apply(batch)
	assert.Equal(t, []string{"Oslo", "Zoo", "Örebro"}, names(swedish.Snapshot()))
}

func TestApply_ModifiedThatRevokesAccessRemoves(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{change(repository.Added, "2", "Family", "bob@example.com", me)})
	require.True(t, ix.Has("2"))

	ix.Apply([]repository.Change{change(repository.Modified, "2", "Family", "bob@example.com", "eve@example.com")})
	assert.False(t, ix.Has("2"))
	assert.Empty(t, ix.Snapshot())
}

func TestApply_ModifiedForUnknownIsAdded(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{change(repository.Modified, "9", "Late", me)})
	assert.True(t, ix.Has("9"))
}

func TestApply_RemovedIsUnconditional(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{change(repository.Added, "1", "Work", me)})
	ix.Apply([]repository.Change{{Type: repository.Removed, ID: "1"}})
	ix.Apply([]repository.Change{{Type: repository.Removed, ID: "1"}})
	assert.Zero(t, ix.Len())
}

func TestApply_DuplicateDeliveryIsIdempotent(t *testing.T) {
	ix := New(me)
	// The same organizer reaches the client through both the "created by me"
	// and the "shared with me" subscriptions.
	c := change(repository.Added, "1", "Home", me, me)
	ix.Apply([]repository.Change{c})
	ix.Apply([]repository.Change{c, c})

	assert.Equal(t, []string{"Home"}, names(ix.Snapshot()))
}

func TestSnapshot_SortsWithCollationAndStableTies(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{
		change(repository.Added, "a", "école", me),
		change(repository.Added, "b", "Zoo", me),
		change(repository.Added, "c", "abc", me),
		change(repository.Added, "d", "Same", me),
		change(repository.Added, "e", "Same", me),
	})
	ix.Apply([]repository.Change{change(repository.Modified, "d", "Same", me)})

	snap := ix.Snapshot()
	assert.Equal(t, []string{"abc", "école", "Same", "Same", "Zoo"}, names(snap))
	assert.Equal(t, "d", snap[2].ID, "replacement keeps its first position")
	assert.Equal(t, "e", snap[3].ID)
}

func TestSnapshot_IsNotMutatedByLaterWrites(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{change(repository.Added, "1", "Work", me)})
	before := ix.Snapshot()

	ix.Apply([]repository.Change{change(repository.Added, "2", "Alpha", me)})
	assert.Equal(t, []string{"Work"}, names(before))
	assert.Equal(t, []string{"Alpha", "Work"}, names(ix.Snapshot()))
}

func TestApply_IgnoresMalformedDocuments(t *testing.T) {
	ix := New(me)
	ix.Apply([]repository.Change{
		{Type: repository.Added, ID: "x", Data: json.RawMessage(`{"name": 5}`)},
		change(repository.Added, "1", "Work", me),
	})
	assert.Equal(t, []string{"Work"}, names(ix.Snapshot()))
}

func TestConcurrentReaders(t *testing.T) {
	ix := New(me)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := ix.Snapshot()
				for j := 1; j < len(snap); j++ {
					// A reader never sees a half-sorted list.
					if snap[j-1].Name > snap[j].Name {
						t.Errorf("unsorted snapshot: %v", names(snap))
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		ix.Apply([]repository.Change{change(repository.Added, fmt.Sprint(i), fmt.Sprintf("org-%03d", i), me)})
	}
	wg.Wait()
	assert.Equal(t, 200, ix.Len())
}

func TestProperty_IndexMatchesLastVisibleState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	type op struct {
		id      int
		kind    int
		visible bool
	}

	properties.Property("index holds exactly the ids whose last change left them visible", prop.ForAll(
		func(ids []int, kinds []int, vis []bool) bool {
			n := len(ids)
			if len(kinds) < n {
				n = len(kinds)
			}
			if len(vis) < n {
				n = len(vis)
			}
			ix := New(me)
			want := map[string]bool{}
			for i := 0; i < n; i++ {
				o := op{id: ids[i], kind: kinds[i], visible: vis[i]}
				id := fmt.Sprint(o.id)
				owner := "bob@example.com"
				if o.visible {
					owner = me
				}
				var c repository.Change
				switch o.kind {
				case 0:
					c = change(repository.Added, id, "n"+id, owner)
					want[id] = o.visible
				case 1:
					c = change(repository.Modified, id, "n"+id, owner)
					want[id] = o.visible
				default:
					c = repository.Change{Type: repository.Removed, ID: id}
					want[id] = false
				}
				ix.Apply([]repository.Change{c})
			}
			count := 0
			for id, ok := range want {
				if ix.Has(id) != ok {
					return false
				}
				if ok {
					count++
				}
			}
			return ix.Len() == count
		},
		gen.SliceOfN(30, gen.IntRange(0, 5)),
		gen.SliceOfN(30, gen.IntRange(0, 2)),
		gen.SliceOfN(30, gen.Bool()),
	))

	properties.TestingRun(t)
}
