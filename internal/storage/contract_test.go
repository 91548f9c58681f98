package storage

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"
)

// storeContract is the behaviour every Store backend must share. Backends embed it in a
// suite and set store and advance in SetupTest.
type storeContract struct {
	suite.Suite
	store   Store
	advance func(time.Duration)
}

func (s *storeContract) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "session:nobody")
	s.ErrorIs(err, ErrNotFound)
}

func (s *storeContract) TestSetGetOverwrite() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "user:a@b.c", []byte("v1"), 0))
	got, err := s.store.Get(ctx, "user:a@b.c")
	s.Require().NoError(err)
	s.Equal([]byte("v1"), got)

	s.Require().NoError(s.store.Set(ctx, "user:a@b.c", []byte("v2"), 0))
	got, err = s.store.Get(ctx, "user:a@b.c")
	s.Require().NoError(err)
	s.Equal([]byte("v2"), got)
}

func (s *storeContract) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "claim:1", []byte("x"), 0))
	s.Require().NoError(s.store.Delete(ctx, "claim:1"))
	_, err := s.store.Get(ctx, "claim:1")
	s.ErrorIs(err, ErrNotFound)

	s.NoError(s.store.Delete(ctx, "claim:1"), "deleting a missing key is not an error")
}

func (s *storeContract) TestExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "session:did", []byte("live"), time.Hour))

	s.advance(30 * time.Minute)
	_, err := s.store.Get(ctx, "session:did")
	s.Require().NoError(err)

	s.advance(31 * time.Minute)
	_, err = s.store.Get(ctx, "session:did")
	s.ErrorIs(err, ErrNotFound)
}

func (s *storeContract) TestJSONHelpers() {
	type record struct {
		DID   string `json:"did"`
		Count int    `json:"count"`
	}
	ctx := context.Background()
	s.Require().NoError(SetJSON(ctx, s.store, "rec", record{DID: "did:x", Count: 3}, 0))
	got, err := GetJSON[record](ctx, s.store, "rec")
	s.Require().NoError(err)
	s.Equal(record{DID: "did:x", Count: 3}, got)

	_, err = GetJSON[record](ctx, s.store, "missing")
	s.ErrorIs(err, ErrNotFound)
}

// testClock is a manually advanced clock shared by a store and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
