package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"zkpauth/internal/identity"
)

// DefaultTTL is the lifetime of an issued claim.
const DefaultTTL = 365 * 24 * time.Hour

// ErrIssuanceFailed wraps every reason a claim could not be issued.
var ErrIssuanceFailed = errors.New("claim issuance failed")

// Backend anchors an issued claim on a remote issuer node and returns the id it was
// given there.
type Backend interface {
	CreateClaim(ctx context.Context, c Claim) (string, error)
}

// Issuer issues claims signed off by a single issuer DID.
type Issuer struct {
	issuerDID string
	ttl       time.Duration
	clock     func() time.Time
	newID     func() uuid.UUID
	backend   Backend
	logger    *slog.Logger
}

type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithBackend mounts a remote issuer; every issued claim is then also created upstream.
func WithBackend(b Backend) Option {
	return func(i *Issuer) {
		i.backend = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewIssuer(issuerDID string, opts ...Option) *Issuer {
	i := &Issuer{
		issuerDID: issuerDID,
		ttl:       DefaultTTL,
		clock:     time.Now,
		newID:     uuid.New,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// IssuerDID returns the DID claims are issued under.
func (i *Issuer) IssuerDID() string {
	return i.issuerDID
}

// Issue creates a claim of claimType about subject. data must be the payload shape for
// claimType.
func (i *Issuer) Issue(ctx context.Context, subject identity.Identity, claimType Type, data Payload) (Claim, error) {
	if !claimType.IsValid() {
		return Claim{}, fmt.Errorf("%w: unknown claim type %q", ErrIssuanceFailed, claimType)
	}
	if data == nil || data.Type() != claimType {
		return Claim{}, fmt.Errorf("%w: payload does not match claim type %s", ErrIssuanceFailed, claimType)
	}
	if err := data.Validate(); err != nil {
		return Claim{}, fmt.Errorf("%w: %w", ErrIssuanceFailed, err)
	}
	if subject.DID == "" {
		return Claim{}, fmt.Errorf("%w: subject DID is required", ErrIssuanceFailed)
	}

	now := i.clock()
	c := Claim{
		ID:         i.newID(),
		Type:       claimType,
		IssuerDID:  i.issuerDID,
		SubjectDID: subject.DID,
		Data:       data,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.ttl),
	}
	digest, err := Digest(c.ID, c.SubjectDID, c.Data)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: %w", ErrIssuanceFailed, err)
	}
	c.Proof = IntegrityProof{Type: ProofTypeSparseMerkle, Value: digest}

	if i.backend != nil {
		upstreamID, err := i.backend.CreateClaim(ctx, c)
		if err != nil {
			return Claim{}, fmt.Errorf("%w: upstream: %w", ErrIssuanceFailed, err)
		}
		c.UpstreamID = upstreamID
	}

	i.logger.DebugContext(ctx, "claim issued",
		"claim_id", c.ID.String(),
		"type", string(c.Type),
		"subject", c.SubjectDID,
	)
	return c, nil
}
