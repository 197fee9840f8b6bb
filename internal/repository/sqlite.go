package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLiteStore keeps documents as JSON rows in the documents table and
// filters with SQLite's JSON functions. Writes are serialised so the change
// feed sees them in commit order.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger

	writeMu sync.Mutex
	feed    *Feed
	closed  bool
}

// NewSQLiteStore wraps a migrated database (see internal/database).
func NewSQLiteStore(db *sql.DB, log *zap.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		log:  log.Named("sqlite_store"),
		feed: NewFeed(),
	}
}

// Insert stores doc under a fresh uuid.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc any) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	query := `INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(data)); err != nil {
		s.log.Error("Failed to insert document",
			zap.String("collection", collection),
			zap.Error(err))
		return "", err
	}

	s.feed.Publish(collection, id, nil, data)
	return id, nil
}

// Set creates or replaces the document with the given id.
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc any) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev, err := s.load(ctx, s.db, collection, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(data)); err != nil {
		s.log.Error("Failed to set document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return err
	}

	s.feed.Publish(collection, id, prev, data)
	return nil
}

// Update merges fields into an existing document inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := s.load(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	next, err := mergeFields(prev, fields)
	if err != nil {
		return err
	}

	query := `UPDATE documents SET data = ? WHERE collection = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, query, string(next), collection, id); err != nil {
		s.log.Error("Failed to update document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}

	s.feed.Publish(collection, id, prev, next)
	return nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev, err := s.load(ctx, s.db, collection, id)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		s.log.Error("Failed to delete document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.Publish(collection, id, prev, nil)
	return nil
}

// Get decodes a document into out or returns ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string, out any) error {
	data, err := s.load(ctx, s.db, collection, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, collection, id string) (json.RawMessage, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.log.Error("Failed to load document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Query returns matching documents in insertion order.
func (s *SQLiteStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	where, args, err := buildWhere(collection, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		s.log.Error("Failed to query documents",
			zap.String("collection", collection),
			zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			s.log.Error("Failed to scan document", zap.Error(err))
			return nil, err
		}
		raw := json.RawMessage(data)
		// SQLite compares JSON scalars by SQL affinity; Match keeps the
		// result consistent with what subscriptions deliver.
		if !Match(raw, filters) {
			continue
		}
		docs = append(docs, Document{ID: id, Data: raw})
	}
	return docs, rows.Err()
}

func buildWhere(collection string, filters []Filter) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, f := range filters {
		path := "$." + f.Field
		switch f.Op {
		case OpEq:
			clauses = append(clauses, "json_extract(data, ?) = ?")
			args = append(args, path, sqlValue(f.Value))
		case OpArrayContains:
			clauses = append(clauses,
				"EXISTS (SELECT 1 FROM json_each(documents.data, ?) AS j WHERE j.value = ?)")
			args = append(args, path, sqlValue(f.Value))
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// sqlValue maps a filter value to what json_extract yields for it.
func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

// Subscribe opens a live subscription. Only writes made through this store
// are observed; use internal/events to follow writes from other processes.
func (s *SQLiteStore) Subscribe(collection string, filters []Filter, h Handler) (Unsubscribe, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	docs, err := s.Query(context.Background(), collection, filters...)
	if err != nil {
		return nil, err
	}
	initial := make([]Change, len(docs))
	for i, d := range docs {
		initial[i] = Change{Type: Added, ID: d.ID, Data: d.Data}
	}
	return s.feed.Register(collection, filters, h, initial), nil
}

// Close drops all subscriptions. The *sql.DB is owned by the caller.
func (s *SQLiteStore) Close() error {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
	s.feed.Close()
	return nil
}
