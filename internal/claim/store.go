package claim

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/storage"
	dErrors "zkpauth/pkg/domain-errors"
)

const keyPrefix = "claim:"

// Store persists issued claims by id until they expire.
type Store struct {
	kv    storage.Store
	clock func() time.Time
}

type StoreOption func(*Store)

func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewStore(kv storage.Store, opts ...StoreOption) *Store {
	s := &Store{kv: kv, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Save(ctx context.Context, c Claim) error {
	ttl := c.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "claim already expired")
	}
	if err := storage.SetJSON(ctx, s.kv, keyPrefix+c.ID.String(), c, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save claim")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (Claim, error) {
	c, err := storage.GetJSON[Claim](ctx, s.kv, keyPrefix+id.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Claim{}, dErrors.Wrap(err, dErrors.CodeNotFound, "claim not found")
		}
		return Claim{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	return c, nil
}
