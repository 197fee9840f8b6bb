package services

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	// ErrOrganizerNotFound is returned when an organizer id does not exist
	ErrOrganizerNotFound = errors.New("organizer not found")
	// ErrSelfShare is returned when a user shares an organizer with themselves
	ErrSelfShare = errors.New("cannot share an organizer with yourself")
	// ErrUnknownUser is returned when a share target is not a registered user
	ErrUnknownUser = errors.New("user does not exist")
	// ErrUserExists is returned when registering an email that is taken
	ErrUserExists = errors.New("user already exists")
	// ErrSeriesNotFound is returned when no record carries a parent event id
	ErrSeriesNotFound = errors.New("event series not found")
	// ErrForbidden is returned when the caller may not touch an organizer
	ErrForbidden = errors.New("operation not allowed for this user")
)

// WriteOp names the kind of a single store write inside a sweep.
type WriteOp string

const (
	OpCreate WriteOp = "create"
	OpUpdate WriteOp = "update"
	OpDelete WriteOp = "delete"
)

// WriteFailure is one failed write of a sweep. The other writes of the sweep
// were still attempted.
type WriteFailure struct {
	Op       WriteOp
	Day      string
	RecordID string
	Err      error
}

func (f *WriteFailure) Error() string {
	if f.RecordID == "" {
		return fmt.Sprintf("%s %s: %v", f.Op, f.Day, f.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", f.Op, f.Day, f.RecordID, f.Err)
}

func (f *WriteFailure) Unwrap() error { return f.Err }

// SweepReport summarises a best-effort sweep. Writes that succeeded stay in
// place when others fail.
type SweepReport struct {
	ParentEventID int64           `json:"parentEventId,omitempty"`
	Created       []string        `json:"created"`
	Updated       []string        `json:"updated"`
	Deleted       []string        `json:"deleted"`
	Failures      []*WriteFailure `json:"-"`
}

// Succeeded reports whether every write of the sweep went through.
func (r SweepReport) Succeeded() bool { return len(r.Failures) == 0 }

// Err aggregates the failures, or returns nil.
func (r SweepReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// Attempted returns the number of writes the sweep issued.
func (r SweepReport) Attempted() int {
	return len(r.Created) + len(r.Updated) + len(r.Deleted) + len(r.Failures)
}
