package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and the "memory"
// store driver.
type MemoryStore struct {
	mu     sync.Mutex
	seq    uint64
	colls  map[string]map[string]*memDoc
	feed   *Feed
	closed bool
}

type memDoc struct {
	seq  uint64
	data json.RawMessage
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		colls: make(map[string]map[string]*memDoc),
		feed:  NewFeed(),
	}
}

func (s *MemoryStore) coll(name string) map[string]*memDoc {
	c := s.colls[name]
	if c == nil {
		c = make(map[string]*memDoc)
		s.colls[name] = c
	}
	return c
}

// Insert stores doc under a fresh uuid.
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	if err := s.write(ctx, collection, id, doc, true); err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces the document with the given id.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc any) error {
	return s.write(ctx, collection, id, doc, false)
}

func (s *MemoryStore) write(ctx context.Context, collection, id string, doc any, mustBeNew bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if collection == "" {
		return ErrEmptyCollection
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	c := s.coll(collection)
	var prev json.RawMessage
	if old, ok := c[id]; ok {
		if mustBeNew {
			// uuid collision; treat like any other write failure
			return ErrInvalidDocument
		}
		prev = old.data
		old.data = data
	} else {
		s.seq++
		c[id] = &memDoc{seq: s.seq, data: data}
	}
	s.feed.Publish(collection, id, prev, data)
	return nil
}

// Update merges fields into an existing document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	d, ok := s.colls[collection][id]
	if !ok {
		return ErrNotFound
	}
	next, err := mergeFields(d.data, fields)
	if err != nil {
		return err
	}
	prev := d.data
	d.data = next
	s.feed.Publish(collection, id, prev, next)
	return nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	d, ok := s.colls[collection][id]
	if !ok {
		return ErrNotFound
	}
	delete(s.colls[collection], id)
	s.feed.Publish(collection, id, d.data, nil)
	return nil
}

// Get decodes a document into out.
func (s *MemoryStore) Get(ctx context.Context, collection, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	d, ok := s.colls[collection][id]
	var data json.RawMessage
	if ok {
		data = d.data
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

// Query returns matching documents in insertion order.
func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(collection, filters), nil
}

func (s *MemoryStore) snapshot(collection string, filters []Filter) []Document {
	type entry struct {
		seq uint64
		doc Document
	}
	var entries []entry
	for id, d := range s.colls[collection] {
		if Match(d.data, filters) {
			entries = append(entries, entry{seq: d.seq, doc: Document{ID: id, Data: d.data}})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return docs
}

// Subscribe opens a live subscription on collection.
func (s *MemoryStore) Subscribe(collection string, filters []Filter, h Handler) (Unsubscribe, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	docs := s.snapshot(collection, filters)
	initial := make([]Change, len(docs))
	for i, d := range docs {
		initial[i] = Change{Type: Added, ID: d.ID, Data: d.Data}
	}
	return s.feed.Register(collection, filters, h, initial), nil
}

// Close drops all subscriptions; later writes fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.feed.Close()
	return nil
}
