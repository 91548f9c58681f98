package auth

import (
	"context"
	"errors"
	"strings"

	"zkpauth/internal/storage"
	dErrors "zkpauth/pkg/domain-errors"
	"zkpauth/pkg/platform/sentinel"
)

const userKeyPrefix = "user:"

// KVUserStore keeps registered users in a key-value store, keyed by lowercase email.
type KVUserStore struct {
	kv storage.Store
}

func NewKVUserStore(kv storage.Store) *KVUserStore {
	return &KVUserStore{kv: kv}
}

func userKey(email string) string {
	return userKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

func (s *KVUserStore) FindByEmail(ctx context.Context, email string) (*RegisteredUser, error) {
	user, err := storage.GetJSON[RegisteredUser](ctx, s.kv, userKey(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return &user, nil
}

// Create stores user unless the email is already registered.
func (s *KVUserStore) Create(ctx context.Context, user RegisteredUser) error {
	if _, err := s.kv.Get(ctx, userKey(user.Email)); err == nil {
		return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "user already exists")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check user")
	}
	if err := storage.SetJSON(ctx, s.kv, userKey(user.Email), user, 0); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save user")
	}
	return nil
}
