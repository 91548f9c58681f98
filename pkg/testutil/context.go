package testutil

import (
	"context"
	"net/http"
	"time"

	"zkpauth/pkg/requestcontext"
)

// WithSubject adds an authenticated subject and session to the request context, as the
// session middleware would for a valid bearer token.
func WithSubject(req *http.Request, did, sessionID string) *http.Request {
	ctx := requestcontext.WithSubjectDID(req.Context(), did)
	ctx = requestcontext.WithSessionID(ctx, sessionID)
	return req.WithContext(ctx)
}

// FixedTime returns a context whose request time is t.
func FixedTime(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
