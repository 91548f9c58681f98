//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"zkpauth/internal/storage"
	"zkpauth/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	now      time.Time
	store    *storage.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	_, err := s.postgres.DB.Exec(storage.PostgresSchema)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "kv_entries"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.store = storage.NewPostgresStore(s.postgres.DB, storage.WithPostgresClock(func() time.Time { return s.now }))
}

func (s *PostgresStoreSuite) TestUpsertAndExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "session:did", []byte("v1"), time.Hour))
	s.Require().NoError(s.store.Set(ctx, "session:did", []byte("v2"), time.Hour))

	got, err := s.store.Get(ctx, "session:did")
	s.Require().NoError(err)
	s.Equal([]byte("v2"), got)

	s.now = s.now.Add(2 * time.Hour)
	_, err = s.store.Get(ctx, "session:did")
	s.ErrorIs(err, storage.ErrNotFound)

	purged, err := s.store.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), purged)
}

// TestConcurrentCommitsLastWriterWins verifies concurrent writers to one key leave
// exactly one well-formed value behind.
func (s *PostgresStoreSuite) TestConcurrentCommitsLastWriterWins() {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Set(ctx, "session:shared", []byte(fmt.Sprintf("device-%d", i)), time.Hour))
		}(i)
	}
	wg.Wait()

	got, err := s.store.Get(ctx, "session:shared")
	s.Require().NoError(err)
	s.Regexp(`^device-\d+$`, string(got))
}
