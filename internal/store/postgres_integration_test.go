//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/JonMunkholm/cityingest/internal/record"
	"github.com/JonMunkholm/cityingest/internal/sentinel"
	"github.com/JonMunkholm/cityingest/internal/testutil/containers"
)

type PostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.Pool)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
	s.Require().NoError(s.store.EnsureSchema(context.Background()), "schema must be re-appliable")
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pg.Pool.Exec(context.Background(),
		"TRUNCATE cities, humans, coordinates, import_batches RESTART IDENTITY CASCADE")
	s.Require().NoError(err)
}

func (s *PostgresSuite) TestInsertAndQuery() {
	ctx := context.Background()
	s.Require().NoError(s.store.Health(ctx))

	city, err := s.store.Insert(ctx, cityAt(1, 2), today)
	s.Require().NoError(err)
	s.NotZero(city.ID)
	s.NotNil(city.GovernorID)

	ok, err := s.store.ExistsAt(ctx, record.Coordinates{X: 1, Y: 2})
	s.Require().NoError(err)
	s.True(ok)

	set, err := s.store.ListCoordinates(ctx)
	s.Require().NoError(err)
	s.True(set.Contains("1,2"))
	s.Len(set, 1)
}

func (s *PostgresSuite) TestUniqueViolationIsConflict() {
	ctx := context.Background()
	_, err := s.store.Insert(ctx, cityAt(7, 7), today)
	s.Require().NoError(err)

	_, err = s.store.Insert(ctx, cityAt(7, 7), today)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresSuite) TestTransactionRollback() {
	ctx := context.Background()
	tx, err := s.store.Begin(ctx)
	s.Require().NoError(err)

	_, err = tx.Insert(ctx, cityAt(3, 3), today)
	s.Require().NoError(err)
	inTx, err := tx.ExistsAt(ctx, record.Coordinates{X: 3, Y: 3})
	s.Require().NoError(err)
	s.True(inTx)

	s.Require().NoError(tx.Rollback(ctx))

	ok, err := s.store.ExistsAt(ctx, record.Coordinates{X: 3, Y: 3})
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresSuite) TestImportLedger() {
	ctx := context.Background()
	tx, err := s.store.Begin(ctx)
	s.Require().NoError(err)
	_, err = tx.Insert(ctx, cityAt(4, 4), today)
	s.Require().NoError(err)
	s.Require().NoError(tx.MarkImported(ctx, "corr-pg", 1))
	s.Require().NoError(tx.Commit(ctx))
	s.Require().NoError(tx.Rollback(ctx), "rollback after commit is a no-op")

	tx2, err := s.store.Begin(ctx)
	s.Require().NoError(err)
	defer tx2.Rollback(ctx)
	seen, err := tx2.AlreadyImported(ctx, "corr-pg")
	s.Require().NoError(err)
	s.True(seen)

	seen, err = s.store.AlreadyImported(ctx, "corr-pg")
	s.Require().NoError(err)
	s.True(seen)
	seen, err = s.store.AlreadyImported(ctx, "corr-other")
	s.Require().NoError(err)
	s.False(seen)
}
