package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores and clients. Services
// translate them into domain errors at their boundary.
//
// - ErrNotFound: no record under the key
// - ErrConflict: a record already exists or another writer holds it
// - ErrExpired: the record exists but its lifetime has passed
// - ErrInvalidState: the record is in the wrong state for the operation
// - ErrUnavailable: the backing service cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
