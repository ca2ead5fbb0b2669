//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"trustkit/internal/vault/models"
	"trustkit/pkg/platform/sentinel"
	"trustkit/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Store
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	var err error
	s.store, err = New(s.redis.Client, WithKeyPrefix("test:vault:"))
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) TearDownSuite() {
	s.redis.Close()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestSharedScope() {
	other, err := New(s.redis.Client, WithKeyPrefix("test:vault:"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Put(s.ctx, "group.com.app.shared", &models.Item{Key: "shared.secret", Value: []byte("shared-between-apps")}))

	s.Run("second client in same scope reads it", func() {
		got, err := other.Get(s.ctx, "group.com.app.shared", "shared.secret")
		s.Require().NoError(err)
		s.Equal([]byte("shared-between-apps"), got.Value)
	})

	s.Run("different scope does not", func() {
		_, err := other.Get(s.ctx, "different.group", "shared.secret")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStoreSuite) TestDelete() {
	s.Require().NoError(s.store.Put(s.ctx, "s", &models.Item{Key: "a", Value: []byte("1")}))
	s.Require().NoError(s.store.Put(s.ctx, "s", &models.Item{Key: "b", Value: []byte("2")}))

	s.Require().NoError(s.store.Delete(s.ctx, "s", "a"))
	s.ErrorIs(s.store.Delete(s.ctx, "s", "a"), sentinel.ErrNotFound)

	keys, err := s.store.Keys(s.ctx, "s")
	s.Require().NoError(err)
	s.Equal([]string{"b"}, keys)

	n, err := s.store.DeleteAll(s.ctx, "s")
	s.Require().NoError(err)
	s.Equal(1, n)
}
