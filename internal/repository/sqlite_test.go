package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/database"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewSQLiteStore(db.DB(), zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	id, err := s.Insert(ctx, "notes", note{Title: "a", Owner: "ana", Tags: []string{"x"}})
	require.NoError(t, err)

	var got note
	require.NoError(t, s.Get(ctx, "notes", id, &got))
	assert.Equal(t, note{Title: "a", Owner: "ana", Tags: []string{"x"}}, got)

	require.NoError(t, s.Update(ctx, "notes", id, map[string]any{"title": "b"}))
	require.NoError(t, s.Get(ctx, "notes", id, &got))
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, "ana", got.Owner)

	require.NoError(t, s.Set(ctx, "notes", id, note{Title: "c"}))
	require.NoError(t, s.Get(ctx, "notes", id, &got))
	assert.Equal(t, "c", got.Title)
	assert.Empty(t, got.Owner, "set replaces the whole document")

	require.NoError(t, s.Delete(ctx, "notes", id))
	assert.ErrorIs(t, s.Get(ctx, "notes", id, &got), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "notes", id), ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "notes", id, map[string]any{"title": "d"}), ErrNotFound)
}

func TestSQLiteStore_QueryUsesJSONFilters(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	first, _ := s.Insert(ctx, "events", map[string]any{"parentEventId": int64(1700000000000000001), "organizers": []string{"o1"}, "creator": "ana"})
	_, _ = s.Insert(ctx, "events", map[string]any{"parentEventId": int64(1700000000000000002), "organizers": []string{"o2"}, "creator": "ana"})
	third, _ := s.Insert(ctx, "events", map[string]any{"parentEventId": int64(1700000000000000001), "organizers": []string{"o2", "o1"}, "creator": "bob"})
	_, _ = s.Insert(ctx, "organizers", map[string]any{"creator": "ana"})

	docs, err := s.Query(ctx, "events", Eq("parentEventId", int64(1700000000000000001)))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, first, docs[0].ID)
	assert.Equal(t, third, docs[1].ID)

	docs, err = s.Query(ctx, "events", ArrayContains("organizers", "o1"), Eq("creator", "bob"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, third, docs[0].ID)

	docs, err = s.Query(ctx, "events", Eq("creator", "ana"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSQLiteStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	existing, err := s.Insert(ctx, "organizers", map[string]any{"name": "Home", "sharedWith": []string{"bob"}})
	require.NoError(t, err)

	var r recorder
	unsub, err := s.Subscribe("organizers", []Filter{ArrayContains("sharedWith", "bob")}, r.handler())
	require.NoError(t, err)
	defer unsub()

	batches := waitBatches(t, &r, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, existing, batches[0][0].ID)

	require.NoError(t, s.Update(ctx, "organizers", existing, map[string]any{"sharedWith": []string{}}))
	batches = waitBatches(t, &r, 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, Removed, batches[1][0].Type)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())

	_, err := s.Insert(context.Background(), "notes", note{})
	assert.ErrorIs(t, err, ErrClosed)
}
