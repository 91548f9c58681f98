package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
)

type proverFunc func(ctx context.Context, w Witness) (Points, error)

func (f proverFunc) Prove(ctx context.Context, w Witness) (Points, error) { return f(ctx, w) }

type EngineSuite struct {
	suite.Suite
	now     time.Time
	metrics *Metrics
	engine  *Engine
	subject identity.Identity
	claim   claim.Claim
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) clock() time.Time { return s.now }

func (s *EngineSuite) SetupTest() {
	s.now = time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)
	s.metrics = NewMetricsWith(prometheus.NewRegistry())
	s.engine = New(
		WithProver(NewSimulatedProver(0)),
		WithClock(s.clock),
		WithMetrics(s.metrics),
	)

	var err error
	s.subject, err = identity.NewDeriver(identity.WithClock(s.clock)).
		Derive(identity.MethodWallet, identity.WalletPayload{Address: "0x52908400098527886E0F7030069857D2E4169EE7"})
	s.Require().NoError(err)

	s.claim, err = claim.NewIssuer("did:iden3:polygon:amoy:issuer", claim.WithClock(s.clock)).
		Issue(context.Background(), s.subject, claim.TypeWalletOwner, claim.WalletOwner{
			Address: "0x52908400098527886E0F7030069857D2E4169EE7",
			ChainID: 80002,
		})
	s.Require().NoError(err)
}

func (s *EngineSuite) generate(ctx context.Context, opts ...GenerateOption) (*Proof, error) {
	return s.engine.Generate(ctx, s.subject, s.claim, s.engine.BuildRequest(s.claim), opts...)
}

func (s *EngineSuite) TestBuildRequest() {
	req := s.engine.BuildRequest(s.claim)

	s.Equal(DefaultCircuitID, req.CircuitID)
	s.Equal([]string{"did:iden3:polygon:amoy:issuer"}, req.AllowedIssuers)
	s.Equal("wallet_owner", req.Query["type"])
	s.Contains(req.Query["credentialSubject"], "walletAddress")
	s.Require().NotNil(req.ExpectedClaim)
	s.Equal(s.claim.ID, *req.ExpectedClaim)
	s.Equal(s.now, req.CreatedAt)
}

func (s *EngineSuite) TestGenerate() {
	s.Run("reports phases in order and produces a verifiable proof", func() {
		var seen []Progress
		p, err := s.generate(context.Background(), WithProgress(func(pr Progress) { seen = append(seen, pr) }))
		s.Require().NoError(err)

		s.Equal([]Progress{
			{Phase: PhasePreparingCircuit, Step: 1, Total: 3},
			{Phase: PhaseBuildingWitness, Step: 2, Total: 3},
			{Phase: PhaseComputingProof, Step: 3, Total: 3},
		}, seen)
		s.True(p.Valid)
		s.Equal(s.claim.ID, p.ClaimRef)
		s.Equal(DefaultCircuitID, p.CircuitID)
		s.Equal(s.now, p.CreatedAt)
		s.True(s.engine.Verify(p, &s.claim))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.Generated.WithLabelValues("ok")))
	})

	s.Run("public signals are truncated hashes of did, claim and time", func() {
		p, err := s.generate(context.Background())
		s.Require().NoError(err)
		s.Require().Len(p.PublicSignals, 3)
		s.Equal(identity.Hash(s.subject.DID + ":public")[:32], p.PublicSignals[0])
		s.Equal(identity.Hash(s.claim.ID.String() + ":public")[:32], p.PublicSignals[1])
		s.Equal(identity.Hash(s.now.Format(time.RFC3339Nano) + ":public")[:32], p.PublicSignals[2])
	})

	s.Run("points are derived from the proof id", func() {
		p, err := s.generate(context.Background())
		s.Require().NoError(err)
		s.Equal(identity.Hash(p.ID.String()+":pi_a_1"), p.Points.A[0])
		s.Equal(identity.Hash(p.ID.String()+":pi_b_2_1"), p.Points.B[1][0])
	})

	s.Run("private material reaches the prover but not the proof", func() {
		var witness Witness
		engine := New(WithClock(s.clock), WithProver(proverFunc(func(ctx context.Context, w Witness) (Points, error) {
			witness = w
			return NewSimulatedProver(0).Prove(ctx, w)
		})))
		p, err := engine.Generate(context.Background(), s.subject, s.claim, engine.BuildRequest(s.claim))
		s.Require().NoError(err)
		s.Equal(s.subject.PrivateKeyMaterial(), witness.Private)
		s.Equal(p.ID, witness.ProofID)
	})
}

func (s *EngineSuite) TestGenerateRejectsInputs() {
	ctx := context.Background()

	s.Run("claim about another subject", func() {
		other, err := identity.NewDeriver().Derive(identity.MethodCredential, identity.CredentialPayload{Email: "x@y.z", Password: "secret1"})
		s.Require().NoError(err)
		_, err = s.engine.Generate(ctx, other, s.claim, s.engine.BuildRequest(s.claim))
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("tampered claim", func() {
		tampered := s.claim
		tampered.Data = claim.WalletOwner{Address: "0x0000000000000000000000000000000000000001", ChainID: 80002}
		_, err := s.engine.Generate(ctx, s.subject, tampered, s.engine.BuildRequest(tampered))
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("expired claim", func() {
		s.now = s.claim.ExpiresAt.Add(time.Second)
		defer func() { s.now = s.claim.IssuedAt }()
		_, err := s.generate(ctx)
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("unknown circuit", func() {
		req := s.engine.BuildRequest(s.claim)
		req.CircuitID = "authV2"
		_, err := s.engine.Generate(ctx, s.subject, s.claim, req)
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("request pinned to another claim", func() {
		req := s.engine.BuildRequest(s.claim)
		other := uuid.New()
		req.ExpectedClaim = &other
		_, err := s.engine.Generate(ctx, s.subject, s.claim, req)
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("issuer not allowed", func() {
		req := s.engine.BuildRequest(s.claim)
		req.AllowedIssuers = []string{"did:iden3:polygon:amoy:other"}
		_, err := s.engine.Generate(ctx, s.subject, s.claim, req)
		s.ErrorIs(err, ErrGenerationFailed)
	})

	s.Run("prover failure", func() {
		boom := errors.New("constraint system unsatisfied")
		engine := New(WithClock(s.clock), WithProver(proverFunc(func(context.Context, Witness) (Points, error) {
			return Points{}, boom
		})))
		_, err := engine.Generate(ctx, s.subject, s.claim, engine.BuildRequest(s.claim))
		s.ErrorIs(err, ErrGenerationFailed)
		s.ErrorIs(err, boom)
	})
}

func (s *EngineSuite) TestCancellation() {
	s.Run("before start", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var seen []Progress
		_, err := s.generate(ctx, WithProgress(func(p Progress) { seen = append(seen, p) }))
		s.ErrorIs(err, ErrGenerationFailed)
		s.ErrorIs(err, context.Canceled)
		s.Empty(seen)
	})

	s.Run("while computing", func() {
		engine := New(WithClock(s.clock), WithProver(NewSimulatedProver(time.Hour)), WithMetrics(s.metrics))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := engine.Generate(ctx, s.subject, s.claim, engine.BuildRequest(s.claim), WithProgress(func(p Progress) {
				if p.Phase == PhaseComputingProof {
					cancel()
				}
			}))
			done <- err
		}()

		select {
		case err := <-done:
			s.ErrorIs(err, ErrGenerationFailed)
			s.ErrorIs(err, context.Canceled)
		case <-time.After(5 * time.Second):
			s.Fail("generation did not stop after cancellation")
		}
		s.GreaterOrEqual(promtest.ToFloat64(s.metrics.Generated.WithLabelValues("cancelled")), 1.0)
	})

	s.Run("deadline", func() {
		engine := New(WithClock(s.clock), WithProver(NewSimulatedProver(time.Hour)))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := engine.Generate(ctx, s.subject, s.claim, engine.BuildRequest(s.claim))
		s.ErrorIs(err, context.DeadlineExceeded)
	})
}

func (s *EngineSuite) TestVerify() {
	valid, err := s.generate(context.Background())
	s.Require().NoError(err)

	mutate := func(fn func(p *Proof)) *Proof {
		cp := *valid
		cp.PublicSignals = append([]string(nil), valid.PublicSignals...)
		cp.Points = Points{
			A: append([]string(nil), valid.Points.A...),
			B: [][]string{append([]string(nil), valid.Points.B[0]...), append([]string(nil), valid.Points.B[1]...)},
			C: append([]string(nil), valid.Points.C...),
		}
		fn(&cp)
		return &cp
	}

	cases := map[string]*Proof{
		"nil proof":         nil,
		"missing id":        mutate(func(p *Proof) { p.ID = uuid.Nil }),
		"missing circuit":   mutate(func(p *Proof) { p.CircuitID = "" }),
		"missing claim ref": mutate(func(p *Proof) { p.ClaimRef = uuid.Nil }),
		"not valid":         mutate(func(p *Proof) { p.Valid = false }),
		"one signal":        mutate(func(p *Proof) { p.PublicSignals = p.PublicSignals[:1] }),
		"signal count off":  mutate(func(p *Proof) { p.PublicSignals = p.PublicSignals[:2] }),
		"empty signal":      mutate(func(p *Proof) { p.PublicSignals[1] = "" }),
		"a has three":       mutate(func(p *Proof) { p.Points.A = append(p.Points.A, "1") }),
		"b is 2x1":          mutate(func(p *Proof) { p.Points.B[1] = p.Points.B[1][:1] }),
		"b has one row":     mutate(func(p *Proof) { p.Points.B = p.Points.B[:1] }),
		"c empty":           mutate(func(p *Proof) { p.Points.C = nil }),
		"blank coordinate":  mutate(func(p *Proof) { p.Points.A[0] = "" }),
	}
	for name, p := range cases {
		s.Run(name, func() {
			s.False(s.engine.Verify(p, &s.claim))
		})
	}

	s.Run("claim binding", func() {
		other := s.claim
		other.ID = uuid.New()
		s.False(s.engine.Verify(valid, &other))
		s.True(s.engine.Verify(valid, nil), "binding is skipped without an expected claim")
	})

	s.Run("freshness boundary", func() {
		s.now = valid.CreatedAt.Add(5 * time.Minute)
		s.True(s.engine.Verify(valid, &s.claim))
		s.now = valid.CreatedAt.Add(5*time.Minute + time.Nanosecond)
		s.False(s.engine.Verify(valid, &s.claim))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.Verified.WithLabelValues(string(RejectStale))))
	})

	s.Run("structure is checked before freshness", func() {
		s.now = valid.CreatedAt.Add(time.Hour)
		before := promtest.ToFloat64(s.metrics.Verified.WithLabelValues(string(RejectPoints)))
		s.False(s.engine.Verify(mutate(func(p *Proof) { p.Points.C = nil }), &s.claim))
		s.Equal(before+1, promtest.ToFloat64(s.metrics.Verified.WithLabelValues(string(RejectPoints))))
	})
}

func (s *EngineSuite) TestCustomCircuit() {
	engine := New(
		WithClock(s.clock),
		WithProver(NewSimulatedProver(0)),
		WithCircuit(Circuit{ID: "authV2", SignalCount: 2}),
	)
	req := engine.BuildRequest(s.claim)
	req.CircuitID = "authV2"
	p, err := engine.Generate(context.Background(), s.subject, s.claim, req)
	s.Require().NoError(err)
	s.Len(p.PublicSignals, 2)
	s.True(engine.Verify(p, &s.claim))
}
