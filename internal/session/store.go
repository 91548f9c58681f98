package session

import (
	"context"
	"errors"
	"time"

	"zkpauth/internal/storage"
	dErrors "zkpauth/pkg/domain-errors"
	"zkpauth/pkg/platform/sentinel"
)

const keyPrefix = "session:"

// Store keeps at most one session per subject DID.
type Store struct {
	kv storage.Store
}

func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// Save overwrites any session held for the subject. The record expires with the session.
func (s *Store) Save(ctx context.Context, sess Session, now time.Time) error {
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeInvalidInput, "session already expired")
	}
	if err := storage.SetJSON(ctx, s.kv, keyPrefix+sess.SubjectDID, sess, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, did string) (Session, error) {
	sess, err := storage.GetJSON[Session](ctx, s.kv, keyPrefix+did)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
		}
		return Session{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, did string) error {
	if err := s.kv.Delete(ctx, keyPrefix+did); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	return nil
}
