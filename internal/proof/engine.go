package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
)

// ErrGenerationFailed wraps every reason a proof could not be produced, including
// cancellation (check errors.Is against context.Canceled).
var ErrGenerationFailed = errors.New("proof generation failed")

// Engine generates and verifies proofs. It is safe for concurrent use.
type Engine struct {
	prover   Prover
	circuits map[string]Circuit
	maxAge   time.Duration
	clock    func() time.Time
	newID    func() uuid.UUID
	tracer   trace.Tracer
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Engine)

// WithProver replaces the simulated prover.
func WithProver(p Prover) Option {
	return func(e *Engine) {
		if p != nil {
			e.prover = p
		}
	}
}

// WithCircuit registers an additional circuit layout.
func WithCircuit(c Circuit) Option {
	return func(e *Engine) {
		e.circuits[c.ID] = c
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxAge = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an engine with the default circuit and a SimulatedProver.
func New(opts ...Option) *Engine {
	e := &Engine{
		prover:   NewSimulatedProver(DefaultProverDelay),
		circuits: map[string]Circuit{DefaultCircuitID: {ID: DefaultCircuitID, SignalCount: 3}},
		maxAge:   DefaultMaxAge,
		clock:    time.Now,
		newID:    uuid.New,
		tracer:   otel.Tracer("zkpauth/proof"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// BuildRequest builds a verification request asking for proof of c, pinned to c's id.
func (e *Engine) BuildRequest(c claim.Claim) VerificationRequest {
	subject := map[string]any{}
	if c.Data != nil {
		for field := range c.Data.ToMap() {
			subject[field] = map[string]any{"$exists": true}
		}
	}
	claimID := c.ID
	return VerificationRequest{
		ID:             e.newID(),
		CircuitID:      DefaultCircuitID,
		AllowedIssuers: []string{c.IssuerDID},
		Query: map[string]any{
			"type":              string(c.Type),
			"credentialSubject": subject,
		},
		CreatedAt:     e.clock(),
		ExpectedClaim: &claimID,
	}
}

type generateConfig struct {
	progress func(Progress)
}

// GenerateOption configures a single Generate call.
type GenerateOption func(*generateConfig)

// WithProgress observes each phase as it starts.
func WithProgress(fn func(Progress)) GenerateOption {
	return func(c *generateConfig) {
		c.progress = fn
	}
}

// Generate proves that subject holds c under req. It runs three phases, reporting each
// to the progress observer, and stops at the first phase boundary after ctx is done.
func (e *Engine) Generate(ctx context.Context, subject identity.Identity, c claim.Claim, req VerificationRequest, opts ...GenerateOption) (*Proof, error) {
	cfg := generateConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	ctx, span := e.tracer.Start(ctx, "proof.generate", trace.WithAttributes(
		attribute.String("circuit_id", req.CircuitID),
		attribute.String("claim_id", c.ID.String()),
	))
	defer span.End()

	p, err := e.generate(ctx, subject, c, req, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "proof generation failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.metrics.IncrementGenerated("cancelled")
		} else {
			e.metrics.IncrementGenerated("failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	e.metrics.IncrementGenerated("ok")
	return p, nil
}

func (e *Engine) generate(ctx context.Context, subject identity.Identity, c claim.Claim, req VerificationRequest, cfg generateConfig) (*Proof, error) {
	var (
		circuit Circuit
		witness Witness
		points  Points
	)

	phases := []struct {
		phase Phase
		run   func(ctx context.Context) error
	}{
		{PhasePreparingCircuit, func(context.Context) error {
			var err error
			circuit, err = e.prepare(subject, c, req)
			return err
		}},
		{PhaseBuildingWitness, func(context.Context) error {
			witness = e.buildWitness(subject, c, circuit)
			return nil
		}},
		{PhaseComputingProof, func(ctx context.Context) error {
			var err error
			points, err = e.prover.Prove(ctx, witness)
			return err
		}},
	}

	for i, step := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cfg.progress != nil {
			cfg.progress(Progress{Phase: step.phase, Step: i + 1, Total: len(phases)})
		}
		phaseCtx, span := e.tracer.Start(ctx, "proof."+string(step.phase))
		start := time.Now()
		err := step.run(phaseCtx)
		e.metrics.ObservePhase(step.phase, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.End()
			return nil, fmt.Errorf("%s: %w", step.phase, err)
		}
		span.End()
	}

	return &Proof{
		ID:            witness.ProofID,
		CircuitID:     circuit.ID,
		IssuerDID:     c.IssuerDID,
		ClaimRef:      c.ID,
		RequestRef:    req.ID,
		PublicSignals: witness.PublicSignals,
		Points:        points,
		CreatedAt:     e.clock(),
		Valid:         true,
	}, nil
}

func (e *Engine) prepare(subject identity.Identity, c claim.Claim, req VerificationRequest) (Circuit, error) {
	circuit, ok := e.circuits[req.CircuitID]
	if !ok {
		return Circuit{}, fmt.Errorf("unknown circuit %q", req.CircuitID)
	}
	if subject.DID == "" || c.SubjectDID != subject.DID {
		return Circuit{}, errors.New("claim subject does not match identity")
	}
	if !c.VerifyIntegrity() {
		return Circuit{}, errors.New("claim integrity check failed")
	}
	if c.IsExpired(e.clock()) {
		return Circuit{}, errors.New("claim expired")
	}
	if req.ExpectedClaim != nil && *req.ExpectedClaim != c.ID {
		return Circuit{}, errors.New("request is pinned to another claim")
	}
	if len(req.AllowedIssuers) > 0 && !slices.Contains(req.AllowedIssuers, c.IssuerDID) {
		return Circuit{}, errors.New("claim issuer not allowed by request")
	}
	return circuit, nil
}

func (e *Engine) buildWitness(subject identity.Identity, c claim.Claim, circuit Circuit) Witness {
	timestamp := e.clock().UTC().Format(time.RFC3339Nano)
	signals := []string{
		signal(subject.DID),
		signal(c.ID.String()),
		signal(timestamp),
	}
	if circuit.SignalCount > 0 && circuit.SignalCount < len(signals) {
		signals = signals[:circuit.SignalCount]
	}
	return Witness{
		ProofID:       e.newID(),
		CircuitID:     circuit.ID,
		SubjectDID:    subject.DID,
		ClaimID:       c.ID,
		ClaimDigest:   c.Proof.Value,
		PublicSignals: signals,
		Private:       subject.PrivateKeyMaterial(),
	}
}

func signal(value string) string {
	return identity.Hash(value + ":public")[:signalLength]
}

// Verify reports whether p is well formed, fresh, and (when expected is given) bound
// to the expected claim. Checks run in that order and the first failure wins.
func (e *Engine) Verify(p *Proof, expected *claim.Claim) bool {
	reason, ok := e.check(p, expected)
	if !ok {
		e.metrics.IncrementVerified(string(reason))
		e.logger.Debug("proof rejected", "reason", string(reason))
		return false
	}
	e.metrics.IncrementVerified("accepted")
	return true
}

func (e *Engine) check(p *Proof, expected *claim.Claim) (Rejection, bool) {
	if p == nil || p.ID == uuid.Nil || p.CircuitID == "" || p.ClaimRef == uuid.Nil || p.CreatedAt.IsZero() {
		return RejectMalformed, false
	}
	if !p.Valid {
		return RejectNotValid, false
	}
	if len(p.PublicSignals) < 2 {
		return RejectSignals, false
	}
	if circuit, ok := e.circuits[p.CircuitID]; ok && circuit.SignalCount > 0 && len(p.PublicSignals) != circuit.SignalCount {
		return RejectSignals, false
	}
	for _, s := range p.PublicSignals {
		if s == "" {
			return RejectSignals, false
		}
	}
	if !pointsWellFormed(p.Points) {
		return RejectPoints, false
	}
	if e.clock().Sub(p.CreatedAt) > e.maxAge {
		return RejectStale, false
	}
	if expected != nil && p.ClaimRef != expected.ID {
		return RejectClaimMismatch, false
	}
	return "", true
}

func pointsWellFormed(pts Points) bool {
	if !pair(pts.A) || !pair(pts.C) || len(pts.B) != 2 {
		return false
	}
	return pair(pts.B[0]) && pair(pts.B[1])
}

func pair(v []string) bool {
	return len(v) == 2 && v[0] != "" && v[1] != ""
}
