// Package storage provides the key-value persistence port used for sessions, registered
// users and claims, with memory, Redis, Postgres and SQLite backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zkpauth/pkg/platform/sentinel"
)

// ErrNotFound is returned by Get when no live value exists under the key.
var ErrNotFound = sentinel.ErrNotFound

// Store is a per-key atomic byte store. A ttl of zero means the value never expires.
// Expired values behave exactly like missing ones.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON loads and decodes the value under key.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var out T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
