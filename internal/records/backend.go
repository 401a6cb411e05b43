package records

import (
	"context"
	"time"

	"github.com/blacktop/reviewsync/internal/model"
	"github.com/google/uuid"
)

var (
	// ErrServerRecordChanged is returned by Save when the stored record does
	// not carry the change tag the caller read.
	ErrServerRecordChanged = model.NewError(model.Conflict, "save record", "record changed on server", nil)
	// ErrUnknownRecord is returned when no record exists under a name.
	ErrUnknownRecord = model.NewError(model.NotFound, "fetch record", "record not found", nil)
	// ErrNotConfigured is returned when no backend is set up.
	ErrNotConfigured = model.NewError(model.RemoteUnavailable, "record store", "record store not configured", nil)
)

// Backend is a record store with optimistic concurrency.
type Backend interface {
	// Status checks the backend can be reached.
	Status(ctx context.Context) error

	// Fetch returns the record stored under name.
	// It returns ErrUnknownRecord if there is none.
	Fetch(ctx context.Context, name string) (*Record, error)

	// Save creates rec (empty ChangeTag) or writes the listed keys of rec onto
	// the stored record. It returns ErrServerRecordChanged when the stored
	// change tag differs from rec's, and the saved record otherwise.
	Save(ctx context.Context, rec *Record, changedKeys []string) (*Record, error)

	// Delete removes the record stored under name. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, name string) error

	// Query returns all records of a kind matching pred, ordered by name.
	Query(ctx context.Context, kind Kind, pred *Predicate) ([]*Record, error)

	// Close releases the backend.
	Close() error
}

func newChangeTag() string {
	return uuid.NewString()
}

// prepareSave computes the record to store for a save of rec over current
// (nil when absent). It is shared by the backends so they agree on the
// concurrency rules.
func prepareSave(current, rec *Record, keys []string, now time.Time) (*Record, error) {
	switch {
	case current == nil && rec.ChangeTag != "":
		// deleted since it was read
		return nil, ErrServerRecordChanged
	case current == nil:
		out := rec.Clone()
		out.ChangeTag = newChangeTag()
		out.Modified = now
		return out, nil
	case rec.ChangeTag != current.ChangeTag:
		return nil, ErrServerRecordChanged
	}
	out := current.Clone()
	out.Fields = applyChanges(out.Fields, rec.Fields, keys)
	out.ChangeTag = newChangeTag()
	out.Modified = now
	return out, nil
}
