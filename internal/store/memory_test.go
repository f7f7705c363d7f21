package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

func cityAt(x, y int) record.ValidatedRecord {
	age := int64(61)
	return record.ValidatedRecord{
		Name:             "Town",
		Coordinates:      record.Coordinates{X: x, Y: y},
		Area:             12.5,
		Population:       900,
		Climate:          "DESERT",
		StandardOfLiving: "MEDIUM",
		Governor:         &record.Governor{Age: &age},
	}
}

var today = time.Date(2024, 7, 9, 17, 45, 0, 0, time.UTC)

func TestMemory_InsertAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	city, err := s.Insert(ctx, cityAt(1, 2), today)
	require.NoError(t, err)
	assert.NotZero(t, city.ID)
	require.NotNil(t, city.GovernorID)
	assert.Equal(t, time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC), city.CreationDate)

	ok, err := s.ExistsAt(ctx, record.Coordinates{X: 1, Y: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := s.ListCoordinates(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains("1,2"))

	_, err = s.Insert(ctx, cityAt(1, 2), today)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.Equal(t, 1, s.Len())
}

func TestMemory_GovernorWithoutValueCreatesNoHuman(t *testing.T) {
	rec := cityAt(3, 3)
	rec.Governor = &record.Governor{}
	city, err := NewMemory().Insert(context.Background(), rec, today)
	require.NoError(t, err)
	assert.Nil(t, city.GovernorID)
}

func TestMemoryTx_IsolatedUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Insert(ctx, cityAt(5, 5), today)
	require.NoError(t, err)

	inTx, _ := tx.ExistsAt(ctx, record.Coordinates{X: 5, Y: 5})
	outside, _ := s.ExistsAt(ctx, record.Coordinates{X: 5, Y: 5})
	assert.True(t, inTx)
	assert.False(t, outside)

	_, err = tx.Insert(ctx, cityAt(5, 5), today)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	require.NoError(t, tx.MarkImported(ctx, "corr-1", 1))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Imported("corr-1"))
}

func TestMemoryTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tx, _ := s.Begin(ctx)
	_, err := tx.Insert(ctx, cityAt(1, 1), today)
	require.NoError(t, err)
	require.NoError(t, tx.MarkImported(ctx, "corr-2", 1))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Imported("corr-2"))
	assert.Error(t, tx.Commit(ctx))
}

func TestMemoryTx_CommitDetectsRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)

	_, err := a.Insert(ctx, cityAt(9, 9), today)
	require.NoError(t, err)
	_, err = b.Insert(ctx, cityAt(9, 9), today)
	require.NoError(t, err, "neither transaction sees the other's staged row")

	require.NoError(t, a.Commit(ctx))
	assert.ErrorIs(t, b.Commit(ctx), sentinel.ErrConflict)
	assert.Equal(t, 1, s.Writes())
}

func TestMemoryTx_AlreadyImported(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tx, _ := s.Begin(ctx)
	_, _ = tx.Insert(ctx, cityAt(1, 1), today)
	_ = tx.MarkImported(ctx, "corr-3", 1)
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := s.Begin(ctx)
	defer tx2.Rollback(ctx)
	seen, err := tx2.AlreadyImported(ctx, "corr-3")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.AlreadyImported(ctx, "corr-3")
	require.NoError(t, err)
	assert.True(t, seen, "ledger is visible outside a transaction")
}

func TestMemoryTx_UseAfterDone(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.Commit(ctx))

	_, err := tx.Insert(ctx, cityAt(2, 2), today)
	assert.ErrorIs(t, err, errTxDone)
	_, err = tx.ExistsAt(ctx, record.Coordinates{X: 2, Y: 2})
	assert.ErrorIs(t, err, errTxDone)
	assert.Zero(t, s.Len())
}

func TestMemoryTx_InsertCancelled(t *testing.T) {
	s := NewMemory()
	tx, _ := s.Begin(context.Background())
	defer tx.Rollback(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tx.Insert(ctx, cityAt(5, 5), today)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, tx.Commit(context.Background()))
	assert.Zero(t, s.Len())
}

func TestMemory_GetUnknown(t *testing.T) {
	_, err := NewMemory().Get(record.Coordinates{X: 4, Y: 4})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestCreationDate(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	got := CreationDate(time.Date(2024, 1, 2, 5, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestSchemaDeclaresCoordinateUniqueness(t *testing.T) {
	assert.Contains(t, Schema(), "UNIQUE (x, y)")
	assert.Contains(t, Schema(), "import_batches")
}
