// Package store persists imported cities.
//
// The store is the final authority on coordinate uniqueness: a check done by
// the importer before writing can race with another import, so every backend
// also rejects a duplicate (x, y) at write time with an error wrapping
// sentinel.ErrConflict.
//
// Besides cities, the store keeps an import ledger of correlation ids whose
// batches were committed in full. The importer uses it to recognize a
// redelivered message.
package store

import (
	"context"
	"time"

	"github.com/JonMunkholm/cityingest/internal/record"
)

// City is a persisted city.
type City struct {
	ID           int64
	GovernorID   *int64
	CreationDate time.Time
	record.ValidatedRecord
}

// Snapshotter provides the point-in-time coordinate read used by transform.
type Snapshotter interface {
	ListCoordinates(ctx context.Context) (record.CoordinateSet, error)
}

// Store is the persistent city store.
type Store interface {
	Snapshotter
	ExistsAt(ctx context.Context, c record.Coordinates) (bool, error)
	// Insert writes a single city outside of any batch transaction.
	Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error)
	Begin(ctx context.Context) (ImportTx, error)
	// AlreadyImported reads the import ledger outside of any transaction, so it
	// sees batches committed by concurrent imports.
	AlreadyImported(ctx context.Context, correlationID string) (bool, error)
	Health(ctx context.Context) error
}

// ImportTx is one all-or-nothing batch import. Nothing written through it is
// visible to other callers until Commit. Rollback after Commit is a no-op so
// callers can defer it.
type ImportTx interface {
	ExistsAt(ctx context.Context, c record.Coordinates) (bool, error)
	Insert(ctx context.Context, rec record.ValidatedRecord, created time.Time) (City, error)
	AlreadyImported(ctx context.Context, correlationID string) (bool, error)
	MarkImported(ctx context.Context, correlationID string, records int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CreationDate truncates t to the calendar day in UTC.
func CreationDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
