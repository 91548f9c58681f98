package session

import "errors"

var (
	// ErrInvalidTransition is returned for any move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrAttemptInProgress rejects a second proof attempt for a subject that already has
	// one generating or verifying.
	ErrAttemptInProgress = errors.New("authentication already in progress for subject")
	// ErrSuperseded rejects a token whose session was replaced by a later commit.
	ErrSuperseded = errors.New("session superseded")
)
