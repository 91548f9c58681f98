package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/identity"
	jwttoken "zkpauth/internal/jwt_token"
	dErrors "zkpauth/pkg/domain-errors"
	"zkpauth/pkg/platform/sentinel"
)

// TokenService signs and validates session tokens.
type TokenService interface {
	GenerateSessionToken(subjectDID string, sessionID uuid.UUID, method string, issuedAt, expiresAt time.Time) (string, error)
	ValidateToken(token string) (*jwttoken.Claims, error)
}

// Manager drives every attempt through the state machine:
//
//	disconnected -> connecting -> generating_proof -> verifying_proof -> authenticated
//
// Any non-terminal state may move to error. Reset returns error and authenticated
// attempts to disconnected. Only one attempt per subject DID may hold generating_proof
// or verifying_proof at a time; a second one is rejected, never queued.
type Manager struct {
	store   *Store
	tokens  TokenService
	ttl     time.Duration
	clock   func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	inflight map[string]uuid.UUID
	states   map[string]State
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func NewManager(store *Store, tokens TokenService, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		tokens:   tokens,
		ttl:      DefaultTTL,
		clock:    time.Now,
		logger:   slog.Default(),
		inflight: make(map[string]uuid.UUID),
		states:   make(map[string]State),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start opens a new attempt in StateConnecting.
func (m *Manager) Start(method identity.Method) *Attempt {
	a := &Attempt{
		ID:        uuid.New(),
		Method:    method,
		StartedAt: m.clock(),
		state:     StateDisconnected,
	}
	m.mu.Lock()
	m.enter(a, StateConnecting)
	m.mu.Unlock()
	return a
}

// Reserve binds a to subjectDID and takes the subject's in-flight slot while a is still
// connecting, before any issuer call or persistence. If another attempt holds the slot,
// a enters StateError and ErrAttemptInProgress is returned.
func (m *Manager) Reserve(a *Attempt, subjectDID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.state != StateConnecting {
		return fmt.Errorf("%w: reserve in %s", ErrInvalidTransition, a.state)
	}
	if subjectDID == "" {
		return fmt.Errorf("%w: subject DID is required", ErrInvalidTransition)
	}
	if a.subject != "" && a.subject != subjectDID {
		return fmt.Errorf("%w: attempt already bound to %s", ErrInvalidTransition, a.subject)
	}
	return m.reserveLocked(a, subjectDID)
}

// Advance moves a to StateGeneratingProof or StateVerifyingProof. An attempt that was not
// reserved takes the subject's slot on entering StateGeneratingProof, with the same
// rejection as Reserve.
func (m *Manager) Advance(a *Attempt, to State, subjectDID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case a.state == StateConnecting && to == StateGeneratingProof:
		switch {
		case a.subject == "":
			if subjectDID == "" {
				return fmt.Errorf("%w: subject DID is required", ErrInvalidTransition)
			}
			if err := m.reserveLocked(a, subjectDID); err != nil {
				return err
			}
		case subjectDID != "" && subjectDID != a.subject:
			return fmt.Errorf("%w: attempt bound to %s", ErrInvalidTransition, a.subject)
		}
	case a.state == StateGeneratingProof && to == StateVerifyingProof:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, to)
	}
	m.enter(a, to)
	return nil
}

// reserveLocked must be called with m.mu held.
func (m *Manager) reserveLocked(a *Attempt, subjectDID string) error {
	if holder, ok := m.inflight[subjectDID]; ok && holder != a.ID {
		a.cause = CauseInProgress
		a.err = ErrAttemptInProgress
		m.enter(a, StateError)
		m.metrics.IncrementRejected()
		return ErrAttemptInProgress
	}
	m.inflight[subjectDID] = a.ID
	m.metrics.SetInFlight(len(m.inflight))
	a.subject = subjectDID
	m.states[subjectDID] = a.state
	return nil
}

// Fail moves a non-terminal attempt to StateError, recording the cause of err.
func (m *Manager) Fail(a *Attempt, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failLocked(a, err)
}

func (m *Manager) failLocked(a *Attempt, err error) error {
	switch a.state {
	case StateDisconnected, StateAuthenticated, StateError:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, StateError)
	}
	a.cause = CauseOf(err)
	a.err = err
	m.release(a)
	m.enter(a, StateError)
	m.logger.Warn("authentication attempt failed",
		"attempt_id", a.ID.String(),
		"method", string(a.Method),
		"cause", string(a.cause),
		"error", err,
	)
	return nil
}

// Commit creates, signs and persists the session for a verified attempt, replacing any
// session the subject already had. A failure to persist moves a to StateError and
// nothing is committed.
func (m *Manager) Commit(ctx context.Context, a *Attempt, claimRef uuid.UUID) (*Session, error) {
	m.mu.Lock()
	state := a.state
	m.mu.Unlock()
	if state != StateVerifyingProof {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, StateAuthenticated)
	}
	if err := ctx.Err(); err != nil {
		_ = m.Fail(a, err)
		return nil, err
	}

	now := m.clock()
	sess := Session{
		ID:              uuid.New(),
		Method:          a.Method,
		SubjectDID:      a.subject,
		ClaimRef:        claimRef,
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(m.ttl),
	}
	token, err := m.tokens.GenerateSessionToken(sess.SubjectDID, sess.ID, string(sess.Method), sess.AuthenticatedAt, sess.ExpiresAt)
	if err != nil {
		err = fmt.Errorf("sign session token: %w", err)
		_ = m.Fail(a, err)
		return nil, err
	}
	sess.Token = token

	if err := m.store.Save(ctx, sess, now); err != nil {
		_ = m.Fail(a, err)
		return nil, err
	}

	m.mu.Lock()
	a.session = &sess
	m.release(a)
	m.enter(a, StateAuthenticated)
	m.mu.Unlock()

	m.metrics.IncrementCommitted(string(sess.Method))
	m.logger.InfoContext(ctx, "session committed",
		"session_id", sess.ID.String(),
		"did", sess.SubjectDID,
		"method", string(sess.Method),
		"expires_at", sess.ExpiresAt,
	)
	return &sess, nil
}

// Reset returns an errored or authenticated attempt to StateDisconnected. Resetting an
// authenticated attempt also deletes its session unless a later commit replaced it.
func (m *Manager) Reset(ctx context.Context, a *Attempt) error {
	m.mu.Lock()
	state := a.state
	m.mu.Unlock()

	switch state {
	case StateError:
	case StateAuthenticated:
		if current, err := m.store.Get(ctx, a.subject); err == nil && a.session != nil && current.ID == a.session.ID {
			if err := m.store.Delete(ctx, a.subject); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, StateDisconnected)
	}

	m.mu.Lock()
	m.enter(a, StateDisconnected)
	m.mu.Unlock()
	return nil
}

// Logout deletes the subject's session. Logging out without a session is not an error.
func (m *Manager) Logout(ctx context.Context, did string) error {
	if err := m.store.Delete(ctx, did); err != nil {
		return err
	}
	m.mu.Lock()
	if _, busy := m.inflight[did]; !busy {
		delete(m.states, did)
	}
	m.mu.Unlock()
	m.metrics.IncrementTransition(StateDisconnected)
	m.logger.InfoContext(ctx, "session revoked", "did", did)
	return nil
}

// Load returns the live session for did. An expired record is deleted and reported with
// sentinel.ErrExpired instead of being restored.
func (m *Manager) Load(ctx context.Context, did string) (*Session, error) {
	sess, err := m.store.Get(ctx, did)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(m.clock()) {
		if err := m.store.Delete(ctx, did); err != nil {
			m.logger.WarnContext(ctx, "failed to discard expired session", "did", did, "error", err)
		}
		return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeNotFound, "session expired")
	}
	return &sess, nil
}

// Authenticate resolves a bearer token to the live session it was issued for. Tokens of
// superseded or logged-out sessions are rejected.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	sess, err := m.Load(ctx, claims.SubjectDID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "session is no longer active")
		}
		return nil, err
	}
	if sess.ID.String() != claims.SessionID {
		return nil, dErrors.Wrap(ErrSuperseded, dErrors.CodeUnauthorized, "session was replaced by a newer login")
	}
	return sess, nil
}

// State reports the subject's current position: the state of its latest attempt, or
// StateAuthenticated when only a persisted session is known.
func (m *Manager) State(ctx context.Context, did string) State {
	m.mu.Lock()
	st, ok := m.states[did]
	m.mu.Unlock()
	if ok && st != StateAuthenticated {
		return st
	}
	if _, err := m.Load(ctx, did); err == nil {
		return StateAuthenticated
	}
	return StateDisconnected
}

// enter must be called with m.mu held.
func (m *Manager) enter(a *Attempt, to State) {
	a.state = to
	if a.subject != "" {
		if to == StateDisconnected {
			if holder, busy := m.inflight[a.subject]; !busy || holder == a.ID {
				delete(m.states, a.subject)
			}
		} else {
			m.states[a.subject] = to
		}
	}
	m.metrics.IncrementTransition(to)
}

// release must be called with m.mu held.
func (m *Manager) release(a *Attempt) {
	if a.subject == "" {
		return
	}
	if holder, ok := m.inflight[a.subject]; ok && holder == a.ID {
		delete(m.inflight, a.subject)
		m.metrics.SetInFlight(len(m.inflight))
	}
}
