//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"zkpauth/internal/platform/config"
	platformredis "zkpauth/internal/platform/redis"
	"zkpauth/internal/storage"
	"zkpauth/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *storage.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = storage.NewRedisStore(s.redis.Client, storage.WithRedisPrefix("test:"))
}

func (s *RedisStoreSuite) SetupTest() {
	_, err := s.redis.DeletePrefix(context.Background(), "test:")
	s.Require().NoError(err)
}

func (s *RedisStoreSuite) TestConfiguredClient() {
	ctx := context.Background()
	client, err := platformredis.New(ctx, config.RedisConfig{URL: s.redis.URL})
	s.Require().NoError(err)
	defer client.Close()

	store := storage.NewRedisStore(client.Client, storage.WithRedisPrefix("test:"))
	s.Require().NoError(store.Set(ctx, "user:ada", []byte("{}"), 0))

	n, err := s.redis.DeletePrefix(ctx, "test:user:")
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = store.Get(ctx, "user:ada")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestRoundTripAndDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "session:did", []byte("v"), time.Minute))

	got, err := s.store.Get(ctx, "session:did")
	s.Require().NoError(err)
	s.Equal([]byte("v"), got)

	ttl, err := s.redis.Client.TTL(ctx, "test:session:did").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Second)

	s.Require().NoError(s.store.Delete(ctx, "session:did"))
	_, err = s.store.Get(ctx, "session:did")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestNativeExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "session:short", []byte("v"), 150*time.Millisecond))
	s.Eventually(func() bool {
		_, err := s.store.Get(ctx, "session:short")
		return err == storage.ErrNotFound
	}, 2*time.Second, 50*time.Millisecond)
}
