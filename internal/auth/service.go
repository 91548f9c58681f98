// Package auth orchestrates the wallet and credential authentication flows:
// derive an identity, issue a claim, prove and verify it, then commit a session.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/audit"
	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
	"zkpauth/internal/issuer"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// DefaultRequiredChainID is Polygon Amoy.
const DefaultRequiredChainID int64 = 80002

// DefaultGenerationTimeout bounds proof generation.
const DefaultGenerationTimeout = 60 * time.Second

// UserStore persists registered users by email.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*RegisteredUser, error)
	Create(ctx context.Context, user RegisteredUser) error
}

// ClaimStore persists issued claims.
type ClaimStore interface {
	Save(ctx context.Context, c claim.Claim) error
	Get(ctx context.Context, id uuid.UUID) (claim.Claim, error)
}

// Gateway is the part of the issuer node the flows call directly. Claim creation on
// the node goes through the claim issuer's backend instead.
type Gateway interface {
	CreateIdentity(ctx context.Context, meta issuer.DIDMetadata) (issuer.IdentityResponse, error)
	PublishState(ctx context.Context, did string) (json.RawMessage, error)
	GetClaimQR(ctx context.Context, did, claimID string) (json.RawMessage, error)
}

// AuditPublisher records authentication events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the only entry point external callers use to authenticate.
type Service struct {
	deriver  *identity.Deriver
	claims   *claim.Issuer
	claimDB  ClaimStore
	engine   *proof.Engine
	sessions *session.Manager
	users    UserStore

	gateway           Gateway
	auditor           AuditPublisher
	requiredChainID   int64
	generationTimeout time.Duration
	clock             func() time.Time
	logger            *slog.Logger
	metrics           *Metrics
}

type Option func(*Service)

// WithGateway mounts a real issuer node.
func WithGateway(g Gateway) Option {
	return func(s *Service) {
		s.gateway = g
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithRequiredChainID(id int64) Option {
	return func(s *Service) {
		if id > 0 {
			s.requiredChainID = id
		}
	}
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.generationTimeout = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(
	deriver *identity.Deriver,
	claims *claim.Issuer,
	claimDB ClaimStore,
	engine *proof.Engine,
	sessions *session.Manager,
	users UserStore,
	opts ...Option,
) *Service {
	s := &Service{
		deriver:           deriver,
		claims:            claims,
		claimDB:           claimDB,
		engine:            engine,
		sessions:          sessions,
		users:             users,
		requiredChainID:   DefaultRequiredChainID,
		generationTimeout: DefaultGenerationTimeout,
		clock:             time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// FlowOption customises a single flow run.
type FlowOption func(*flowConfig)

type flowConfig struct {
	progress func(proof.Progress)
}

// WithProgress observes proof generation phases.
func WithProgress(fn func(proof.Progress)) FlowOption {
	return func(c *flowConfig) {
		c.progress = fn
	}
}

// Logout ends the subject's session.
func (s *Service) Logout(ctx context.Context, did string) error {
	if err := s.sessions.Logout(ctx, did); err != nil {
		s.logger.ErrorContext(ctx, "logout failed", "did", did, "error", err)
		return newError(KindGenericError, "")
	}
	s.emit(ctx, audit.Event{Action: audit.ActionSessionRevoked, SubjectDID: did})
	return nil
}

// Restore returns the subject's persisted session if it is still live.
func (s *Service) Restore(ctx context.Context, did string) (*session.Session, error) {
	sess, err := s.sessions.Load(ctx, did)
	if err != nil {
		s.logger.DebugContext(ctx, "no session to restore", "did", did, "error", err)
		return nil, newError(KindGenericError, "No active session.")
	}
	return sess, nil
}

// Authenticate resolves a session token to its live session.
func (s *Service) Authenticate(ctx context.Context, token string) (*session.Session, error) {
	sess, err := s.sessions.Authenticate(ctx, token)
	if err != nil {
		s.logger.DebugContext(ctx, "token rejected", "error", err)
		return nil, newError(KindInvalidCredentials, "Invalid or expired session token.")
	}
	return sess, nil
}

// State reports where the subject is in the authentication state machine.
func (s *Service) State(ctx context.Context, did string) session.State {
	return s.sessions.State(ctx, did)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", string(event.Action), "error", err)
	}
}
