package repository

import "errors"

var (
	// ErrNotFound is returned when a document does not exist in a collection
	ErrNotFound = errors.New("document not found")
	// ErrInvalidDocument is returned when a document does not encode to a JSON object
	ErrInvalidDocument = errors.New("document must encode to a JSON object")
	// ErrEmptyCollection is returned when an operation names no collection
	ErrEmptyCollection = errors.New("collection name is required")
	// ErrClosed is returned when the store has been closed
	ErrClosed = errors.New("store is closed")
)
