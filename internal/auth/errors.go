package auth

import (
	"context"
	"errors"

	"zkpauth/internal/claim"
	"zkpauth/internal/issuer"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
)

// Kind is the closed taxonomy of failures the orchestrator reports.
type Kind string

const (
	KindWalletNotConnected       Kind = "WalletNotConnected"
	KindWrongNetwork             Kind = "WrongNetwork"
	KindZKPGenerationFailed      Kind = "ZKPGenerationFailed"
	KindZKPVerificationFailed    Kind = "ZKPVerificationFailed"
	KindUserNotRegistered        Kind = "UserNotRegistered"
	KindInvalidCredentials       Kind = "InvalidCredentials"
	KindIssuerServiceUnavailable Kind = "IssuerServiceUnavailable"
	KindGenericError             Kind = "GenericError"
	KindCancelled                Kind = "Cancelled"
	KindAttemptInProgress        Kind = "AttemptInProgress"
	KindUserAlreadyExists        Kind = "UserAlreadyExists"
	KindInvalidRegistration      Kind = "InvalidRegistration"
)

var messages = map[Kind]string{
	KindWalletNotConnected:       "Please connect your wallet to continue.",
	KindWrongNetwork:             "Please switch to the Polygon Amoy network to continue.",
	KindZKPGenerationFailed:      "The zero-knowledge proof could not be generated. Please try again.",
	KindZKPVerificationFailed:    "The zero-knowledge proof could not be verified. Check your credentials.",
	KindUserNotRegistered:        "User not registered. Please sign up first.",
	KindInvalidCredentials:       "Invalid credentials. Check your email and password.",
	KindIssuerServiceUnavailable: "The credential issuer is unavailable. Check the issuer configuration.",
	KindGenericError:             "An unexpected error occurred. Please try again.",
	KindCancelled:                "Authentication was cancelled.",
	KindAttemptInProgress:        "An authentication for this identity is already in progress.",
	KindUserAlreadyExists:        "A user with this email is already registered.",
	KindInvalidRegistration:      "The registration data is invalid.",
}

// Error is the only error type returned by Service. It never wraps the underlying
// cause; causes are logged where they happen.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, detail string) *Error {
	msg := messages[kind]
	if detail != "" {
		msg = detail
	}
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of an *Error, or KindGenericError for anything else.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindGenericError
}

// classify maps a component failure to the taxonomy. fallback is used when the
// failure carries no more specific meaning.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, session.ErrAttemptInProgress):
		return KindAttemptInProgress
	case issuer.IsUnavailable(err):
		return KindIssuerServiceUnavailable
	case errors.Is(err, proof.ErrGenerationFailed):
		return KindZKPGenerationFailed
	case errors.Is(err, claim.ErrIssuanceFailed):
		return KindGenericError
	default:
		return fallback
	}
}
