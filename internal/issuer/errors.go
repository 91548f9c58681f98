package issuer

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned without contacting the issuer while the breaker is open.
var ErrCircuitOpen = errors.New("issuer circuit open")

// Error describes a failed issuer call. StatusCode is zero when no HTTP response
// was received. Cancelled is set when the caller's context ended the call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
	Cancelled  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("issuer %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("issuer %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Unavailable reports whether the failure means the issuer could not serve the request
// (transport failure, own timeout, open circuit or 5xx), as opposed to rejecting it.
// A call the caller cancelled is never unavailable.
func (e *Error) Unavailable() bool {
	if e.Cancelled {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// IsUnavailable reports whether err is an issuer unavailability failure.
func IsUnavailable(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Unavailable()
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.StatusCode
	}
	return 0
}
