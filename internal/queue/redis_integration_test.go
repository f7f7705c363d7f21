//go:build integration

package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/JonMunkholm/cityingest/internal/testutil/containers"
)

type RedisTrackerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisTrackerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTrackerSuite))
}

func (s *RedisTrackerSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisTrackerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisTrackerSuite) TestLifecycle() {
	ctx := context.Background()
	tr := NewRedisTracker(s.redis.Client)

	b, err := tr.Create(ctx, payloads(2))
	s.Require().NoError(err)

	got, err := tr.Get(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(2, got.TotalItems)
	s.Equal(StatusPending, got.Status)

	_, err = tr.UpdateItem(ctx, b.ID, 0, ItemSuccess, "")
	s.Require().NoError(err)
	got, err = tr.UpdateItem(ctx, b.ID, 1, ItemError, "conflict")
	s.Require().NoError(err)
	s.Equal(StatusFailed, got.Status)

	list, err := tr.List(ctx)
	s.Require().NoError(err)
	s.Len(list, 1)

	s.Require().NoError(tr.Delete(ctx, b.ID))
	list, err = tr.List(ctx)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *RedisTrackerSuite) TestPrefixesAreIsolated() {
	ctx := context.Background()
	a := NewRedisTracker(s.redis.Client).WithPrefix("a:")
	b := NewRedisTracker(s.redis.Client).WithPrefix("b:")

	created, err := a.Create(ctx, payloads(1))
	s.Require().NoError(err)

	_, err = b.Get(ctx, created.ID)
	s.Error(err)
	s.NoError(a.Health(ctx))
}

// Each contract subtest gets its own key prefix on the shared container.
func (s *RedisTrackerSuite) TestContract() {
	runTrackerContract(s.T(), func(t *testing.T, clock *fakeClock) Tracker {
		return NewRedisTracker(s.redis.Client, WithClock(clock.Now)).
			WithPrefix("contract:" + uuid.NewString() + ":")
	})
}
