// Package session owns the authentication state machine and the session records it
// produces.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/identity"
)

// DefaultTTL is the lifetime of a committed session.
const DefaultTTL = 24 * time.Hour

// State is a position in the authentication state machine.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateGeneratingProof State = "generating_proof"
	StateVerifyingProof  State = "verifying_proof"
	StateAuthenticated   State = "authenticated"
	StateError           State = "error"
)

// InFlight reports whether the state is one of the proving states. A reserved attempt
// holds its subject's slot from StateConnecting onwards.
func (s State) InFlight() bool {
	return s == StateGeneratingProof || s == StateVerifyingProof
}

// Cause classifies why an attempt entered StateError.
type Cause string

const (
	CauseFailed     Cause = "failed"
	CauseCancelled  Cause = "cancelled"
	CauseTimeout    Cause = "timeout"
	CauseInProgress Cause = "attempt_in_progress"
)

// CauseOf classifies err. Context cancellation always maps to CauseCancelled.
func CauseOf(err error) Cause {
	switch {
	case errors.Is(err, context.Canceled):
		return CauseCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, ErrAttemptInProgress):
		return CauseInProgress
	default:
		return CauseFailed
	}
}

// Session is the authenticated-state record for one subject DID.
type Session struct {
	ID              uuid.UUID       `json:"id"`
	Method          identity.Method `json:"method"`
	SubjectDID      string          `json:"did"`
	ClaimRef        uuid.UUID       `json:"claimId"`
	AuthenticatedAt time.Time       `json:"authenticatedAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	Token           string          `json:"token"`
}

// IsExpired is true iff now is after ExpiresAt.
func (s Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Attempt is one run through the state machine. It is owned by the goroutine driving
// the flow; all transitions go through the Manager.
type Attempt struct {
	ID        uuid.UUID
	Method    identity.Method
	StartedAt time.Time

	state   State
	subject string
	cause   Cause
	err     error
	session *Session
}

func (a *Attempt) State() State { return a.state }

// SubjectDID is empty until the attempt is reserved or enters StateGeneratingProof.
func (a *Attempt) SubjectDID() string { return a.subject }

func (a *Attempt) Cause() Cause { return a.cause }

func (a *Attempt) Err() error { return a.err }

// Session is set once the attempt is authenticated.
func (a *Attempt) Session() *Session { return a.session }
