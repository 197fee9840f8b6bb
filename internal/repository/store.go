// Package repository is the document-store boundary: collections of JSON
// documents with point lookups, filtered queries and push-based change
// subscriptions.
package repository

import (
	"context"
	"encoding/json"
)

// ChangeType classifies one entry of a change batch.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one document change delivered to a subscriber. For removals Data
// carries the last known document.
type Change struct {
	Type ChangeType      `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the change's document into out.
func (c Change) Decode(out any) error {
	return json.Unmarshal(c.Data, out)
}

// Document is a stored document and its id.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document into out.
func (d Document) Decode(out any) error {
	return json.Unmarshal(d.Data, out)
}

// Handler receives change batches and stream errors for one subscription.
// Calls for a subscription are never concurrent and arrive in write order.
type Handler struct {
	OnChange func(changes []Change)
	OnError  func(err error)
}

// Unsubscribe cancels a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Subscriber opens live subscriptions on a collection. The first batch holds
// every currently matching document as Added.
type Subscriber interface {
	Subscribe(collection string, filters []Filter, h Handler) (Unsubscribe, error)
}

// Store is the document store used by the services.
type Store interface {
	Subscriber

	// Insert stores doc under a fresh id and returns the id.
	Insert(ctx context.Context, collection string, doc any) (string, error)
	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, doc any) error
	// Update merges fields into the top level of an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Get decodes the document into out or returns ErrNotFound.
	Get(ctx context.Context, collection, id string, out any) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Close() error
}

func encodeDocument(doc any) (json.RawMessage, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			return nil, ErrInvalidDocument
		}
		return raw, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || b[0] != '{' {
		return nil, ErrInvalidDocument
	}
	return b, nil
}

// mergeFields applies a partial update to a JSON object.
func mergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = b
	}
	return json.Marshal(m)
}
