package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"zkpauth/internal/audit"
	"zkpauth/internal/auth"
	"zkpauth/internal/auth/mocks"
	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
	"zkpauth/internal/issuer"
	issuermocks "zkpauth/internal/issuer/mocks"
	jwttoken "zkpauth/internal/jwt_token"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
	"zkpauth/internal/storage"
)

const (
	walletAddress = "0xABCDEF0123456789abcdef0123456789ABCD1234"
	issuerDID     = "did:iden3:polygon:amoy:issuer"
)

type brokenProver struct{}

func (brokenProver) Prove(context.Context, proof.Witness) (proof.Points, error) {
	return proof.Points{A: []string{"only-one"}}, nil
}

type ServiceSuite struct {
	suite.Suite
	ctx          context.Context
	ctrl         *gomock.Controller
	kv           *storage.MemoryStore
	claims       *claim.Issuer
	claimDB      *claim.Store
	sessions     *session.Manager
	sessMetrics  *session.Metrics
	proofMetrics *proof.Metrics
	auditor      *mocks.MockAuditPublisher

	mu     sync.Mutex
	events []audit.Event
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.kv = storage.NewMemoryStore()
	s.claims = claim.NewIssuer(issuerDID)
	s.claimDB = claim.NewStore(s.kv)
	s.sessMetrics = session.NewMetricsWith(prometheus.NewRegistry())
	s.sessions = session.NewManager(session.NewStore(s.kv), jwttoken.NewJWTService("test-key", "zkpauth", "zkpauth"),
		session.WithMetrics(s.sessMetrics))
	s.proofMetrics = proof.NewMetricsWith(prometheus.NewRegistry())
	s.events = nil
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, e)
		return nil
	}).AnyTimes()
}

func (s *ServiceSuite) service(prover proof.Prover, opts ...auth.Option) *auth.Service {
	engine := proof.New(proof.WithProver(prover), proof.WithMetrics(s.proofMetrics))
	opts = append([]auth.Option{auth.WithAuditPublisher(s.auditor)}, opts...)
	return auth.New(identity.NewDeriver(), s.claims, s.claimDB, engine, s.sessions, auth.NewKVUserStore(s.kv), opts...)
}

func (s *ServiceSuite) instant(opts ...auth.Option) *auth.Service {
	return s.service(proof.NewSimulatedProver(0), opts...)
}

func (s *ServiceSuite) actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func (s *ServiceSuite) requireKind(err error, kind auth.Kind) {
	s.T().Helper()
	var ae *auth.Error
	s.Require().ErrorAs(err, &ae)
	s.Equal(kind, ae.Kind)
	s.NotEmpty(ae.Message)
}

func (s *ServiceSuite) wallet() auth.WalletInfo {
	return auth.WalletInfo{Connected: true, Address: walletAddress, ChainID: 80002}
}

func (s *ServiceSuite) TestWalletFlow() {
	s.Run("authenticates and is deterministic", func() {
		svc := s.instant()
		first, err := svc.WalletFlow(s.ctx, s.wallet())
		s.Require().NoError(err)

		s.True(strings.HasPrefix(first.Identity.DID, "did:iden3:polygon:amoy:"))
		s.Equal(claim.TypeWalletOwner, first.Claim.Type)
		s.Equal(first.Claim.ID, first.Proof.ClaimRef)
		s.Equal(first.Identity.DID, first.Session.SubjectDID)
		s.Equal(identity.MethodWallet, first.Session.Method)
		s.Equal(session.StateAuthenticated, svc.State(s.ctx, first.Identity.DID))

		second, err := svc.WalletFlow(s.ctx, s.wallet())
		s.Require().NoError(err)
		s.Equal(first.Identity.DID, second.Identity.DID)

		restored, err := svc.Restore(s.ctx, first.Identity.DID)
		s.Require().NoError(err)
		s.Equal(second.Session.ID, restored.ID, "last commit wins")
	})

	s.Run("wrong network fails before identity work", func() {
		svc := s.instant()
		w := s.wallet()
		w.ChainID = 1
		before := testutil.ToFloat64(s.proofMetrics.Generated.WithLabelValues("ok"))
		_, err := svc.WalletFlow(s.ctx, w)
		s.requireKind(err, auth.KindWrongNetwork)
		s.Equal(before, testutil.ToFloat64(s.proofMetrics.Generated.WithLabelValues("ok")))
	})

	s.Run("wallet not connected", func() {
		_, err := s.instant().WalletFlow(s.ctx, auth.WalletInfo{Connected: false, Address: walletAddress, ChainID: 80002})
		s.requireKind(err, auth.KindWalletNotConnected)

		_, err = s.instant().WalletFlow(s.ctx, auth.WalletInfo{Connected: true, Address: "0xnothex", ChainID: 80002})
		s.requireKind(err, auth.KindWalletNotConnected)
	})

	s.Run("custom required chain", func() {
		w := s.wallet()
		w.ChainID = 137
		_, err := s.instant(auth.WithRequiredChainID(137)).WalletFlow(s.ctx, w)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestWalletFlowEmitsAudit() {
	_, err := s.instant().WalletFlow(s.ctx, s.wallet())
	s.Require().NoError(err)
	s.Equal([]audit.Action{audit.ActionSessionCreated}, s.actions())

	w := s.wallet()
	w.ChainID = 1
	_, _ = s.instant().WalletFlow(s.ctx, w)
	s.Equal([]audit.Action{audit.ActionSessionCreated, audit.ActionAuthFailed}, s.actions())
	s.Equal(string(auth.KindWrongNetwork), s.events[1].Reason)
}

func (s *ServiceSuite) TestVerificationFailureCommitsNothing() {
	svc := s.service(brokenProver{})
	_, err := svc.WalletFlow(s.ctx, s.wallet())
	s.requireKind(err, auth.KindZKPVerificationFailed)

	did := identity.NewDeriver().DIDFor(walletAddress)
	s.Equal(session.StateError, svc.State(s.ctx, did))
	_, err = svc.Restore(s.ctx, did)
	s.Error(err)
}

func (s *ServiceSuite) TestCancellation() {
	svc := s.service(proof.NewSimulatedProver(5 * time.Second))
	ctx, cancel := context.WithCancel(s.ctx)

	progress := func(p proof.Progress) {
		if p.Phase == proof.PhaseComputingProof {
			cancel()
		}
	}
	_, err := svc.WalletFlow(ctx, s.wallet(), auth.WithProgress(progress))
	s.requireKind(err, auth.KindCancelled)

	did := identity.NewDeriver().DIDFor(walletAddress)
	_, err = svc.Restore(s.ctx, did)
	s.Error(err, "no partial commit")
}

func (s *ServiceSuite) TestGenerationTimeout() {
	svc := s.service(proof.NewSimulatedProver(5*time.Second), auth.WithGenerationTimeout(20*time.Millisecond))
	_, err := svc.WalletFlow(s.ctx, s.wallet())
	s.requireKind(err, auth.KindZKPGenerationFailed)
}

func (s *ServiceSuite) TestCallerDeadlineIsACancellation() {
	svc := s.service(proof.NewSimulatedProver(5 * time.Second))
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err := svc.WalletFlow(ctx, s.wallet())
	s.requireKind(err, auth.KindCancelled)
	s.Equal(auth.KindCancelled, auth.Kind(s.events[len(s.events)-1].Reason))
}

func (s *ServiceSuite) TestConcurrentAttemptForSameSubjectIsRejected() {
	gateway := mocks.NewMockGateway(s.ctrl)
	node := issuermocks.NewMockGateway(s.ctrl)
	s.claims = claim.NewIssuer(issuerDID, claim.WithBackend(issuer.NewClaimBackend(node)))

	// only the first attempt may reach the issuer
	gateway.EXPECT().CreateIdentity(gomock.Any(), gomock.Any()).
		Return(issuer.IdentityResponse{Identifier: "did:iden3:polygon:amoy:upstream"}, nil).Times(1)
	node.EXPECT().CreateClaim(gomock.Any(), issuerDID, gomock.Any()).
		Return(issuer.ClaimResponse{ID: "upstream-claim"}, nil).Times(1)

	svc := s.service(proof.NewSimulatedProver(5*time.Second), auth.WithGateway(gateway))
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	computing := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := svc.WalletFlow(ctx, s.wallet(), auth.WithProgress(func(p proof.Progress) {
			if p.Phase == proof.PhaseComputingProof {
				close(computing)
			}
		}))
		done <- err
	}()
	<-computing

	_, err := svc.WalletFlow(s.ctx, s.wallet())
	s.requireKind(err, auth.KindAttemptInProgress)
	s.Equal(float64(1), testutil.ToFloat64(s.sessMetrics.Rejected))

	cancel()
	s.requireKind(<-done, auth.KindCancelled)

	// the subject is free again
	s.claims = claim.NewIssuer(issuerDID)
	_, err = s.instant().WalletFlow(s.ctx, s.wallet())
	s.NoError(err)
}

func (s *ServiceSuite) TestRejectionBeforeDerivationStillRecordsAttempt() {
	svc := s.instant()
	w := s.wallet()
	w.ChainID = 1
	_, err := svc.WalletFlow(s.ctx, w)
	s.requireKind(err, auth.KindWrongNetwork)

	_, err = svc.CredentialFlow(s.ctx, auth.Credentials{Email: "nobody@example.com", Password: "whatever"})
	s.requireKind(err, auth.KindUserNotRegistered)

	s.Equal(float64(2), testutil.ToFloat64(s.sessMetrics.Transitions.WithLabelValues(string(session.StateConnecting))))
	s.Equal(float64(2), testutil.ToFloat64(s.sessMetrics.Transitions.WithLabelValues(string(session.StateError))))
}

func (s *ServiceSuite) TestWalletClaimStoredOnlyAfterVerification() {
	claimDB := mocks.NewMockClaimStore(s.ctrl)
	build := func(prover proof.Prover) *auth.Service {
		engine := proof.New(proof.WithProver(prover))
		return auth.New(identity.NewDeriver(), s.claims, claimDB, engine, s.sessions, auth.NewKVUserStore(s.kv),
			auth.WithAuditPublisher(s.auditor))
	}

	s.Run("rejected proof stores nothing", func() {
		claimDB.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
		_, err := build(brokenProver{}).WalletFlow(s.ctx, s.wallet())
		s.requireKind(err, auth.KindZKPVerificationFailed)
	})

	s.Run("verified proof stores its claim", func() {
		var saved claim.Claim
		claimDB.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c claim.Claim) error {
			saved = c
			return nil
		}).Times(1)
		res, err := build(proof.NewSimulatedProver(0)).WalletFlow(s.ctx, s.wallet())
		s.Require().NoError(err)
		s.Equal(res.Claim.ID, saved.ID)
		s.Equal(saved.ID, res.Session.ClaimRef)
	})
}

func (s *ServiceSuite) TestMountedIssuer() {
	s.Run("anchors identity and claim, tolerates follow-up failures", func() {
		gateway := mocks.NewMockGateway(s.ctrl)
		node := issuermocks.NewMockGateway(s.ctrl)
		s.claims = claim.NewIssuer(issuerDID, claim.WithBackend(issuer.NewClaimBackend(node)))

		gateway.EXPECT().CreateIdentity(gomock.Any(), issuer.DefaultDIDMetadata).
			Return(issuer.IdentityResponse{Identifier: "did:iden3:polygon:amoy:upstream"}, nil)
		node.EXPECT().CreateClaim(gomock.Any(), issuerDID, gomock.Any()).
			Return(issuer.ClaimResponse{ID: "upstream-claim"}, nil)
		gateway.EXPECT().PublishState(gomock.Any(), issuerDID).
			Return(nil, &issuer.Error{Op: "publish_state", StatusCode: http.StatusBadGateway, Message: "chain busy"})
		gateway.EXPECT().GetClaimQR(gomock.Any(), issuerDID, "upstream-claim").
			Return(json.RawMessage(`{"type":"offer"}`), nil)

		res, err := s.instant(auth.WithGateway(gateway)).WalletFlow(s.ctx, s.wallet())
		s.Require().NoError(err)
		s.Equal("did:iden3:polygon:amoy:upstream", res.UpstreamDID)
		s.Equal("upstream-claim", res.Claim.UpstreamID)
		s.JSONEq(`{"type":"offer"}`, string(res.QRCode))
	})

	s.Run("identity creation failure is fatal", func() {
		gateway := mocks.NewMockGateway(s.ctrl)
		gateway.EXPECT().CreateIdentity(gomock.Any(), gomock.Any()).
			Return(issuer.IdentityResponse{}, &issuer.Error{Op: "create_identity", Message: "connection refused"})

		_, err := s.instant(auth.WithGateway(gateway)).WalletFlow(s.ctx, s.wallet())
		s.requireKind(err, auth.KindIssuerServiceUnavailable)
	})

	s.Run("upstream claim failure is fatal", func() {
		gateway := mocks.NewMockGateway(s.ctrl)
		node := issuermocks.NewMockGateway(s.ctrl)
		s.claims = claim.NewIssuer(issuerDID, claim.WithBackend(issuer.NewClaimBackend(node)))

		gateway.EXPECT().CreateIdentity(gomock.Any(), gomock.Any()).
			Return(issuer.IdentityResponse{Identifier: "did:x"}, nil)
		node.EXPECT().CreateClaim(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(issuer.ClaimResponse{}, &issuer.Error{Op: "create_claim", StatusCode: http.StatusServiceUnavailable, Message: "down"})

		_, err := s.instant(auth.WithGateway(gateway)).WalletFlow(s.ctx, s.wallet())
		s.requireKind(err, auth.KindIssuerServiceUnavailable)
	})
}

func (s *ServiceSuite) register(svc *auth.Service) *auth.RegisterResult {
	res, err := svc.Register(s.ctx, auth.Registration{Name: "Ada Lovelace", Email: "Ada@Example.com", Password: "s3cret!"})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestRegister() {
	svc := s.instant()
	res := s.register(svc)

	s.Equal("ada@example.com", res.User.Email)
	s.Equal(res.Identity.DID, res.User.IdentityRef)
	s.Equal(res.Claim.ID, res.User.ClaimRef)
	s.Equal(claim.TypeUserName, res.Claim.Type)
	s.NotContains(string(res.User.PasswordHash), "s3cret!")
	s.Contains(s.actions(), audit.ActionUserRegistered)

	s.Run("duplicate email", func() {
		_, err := svc.Register(s.ctx, auth.Registration{Name: "Ada", Email: "ada@example.com", Password: "another1"})
		s.requireKind(err, auth.KindUserAlreadyExists)
	})

	s.Run("validation", func() {
		cases := []auth.Registration{
			{Name: "A", Email: "a@example.com", Password: "secret1"},
			{Name: "Alan", Email: "not-an-email", Password: "secret1"},
			{Name: "Alan", Email: "alan@example.com", Password: "12345"},
		}
		for _, r := range cases {
			_, err := svc.Register(s.ctx, r)
			s.requireKind(err, auth.KindInvalidRegistration)
		}
	})
}

func (s *ServiceSuite) TestCredentialFlow() {
	svc := s.instant()
	reg := s.register(svc)

	s.Run("authenticates with the registered claim", func() {
		res, err := svc.CredentialFlow(s.ctx, auth.Credentials{Email: "ADA@example.com", Password: "s3cret!"})
		s.Require().NoError(err)
		s.Equal(reg.Identity.DID, res.Identity.DID)
		s.Equal(reg.Claim.ID, res.Claim.ID)
		s.Equal(identity.MethodCredential, res.Session.Method)
	})

	s.Run("wrong password does no proof work", func() {
		before := testutil.ToFloat64(s.proofMetrics.Generated.WithLabelValues("ok"))
		_, err := svc.CredentialFlow(s.ctx, auth.Credentials{Email: "ada@example.com", Password: "wrong-password"})
		s.requireKind(err, auth.KindInvalidCredentials)
		s.Equal(before, testutil.ToFloat64(s.proofMetrics.Generated.WithLabelValues("ok")))
	})

	s.Run("unregistered email", func() {
		_, err := svc.CredentialFlow(s.ctx, auth.Credentials{Email: "nobody@example.com", Password: "whatever"})
		s.requireKind(err, auth.KindUserNotRegistered)
	})

	s.Run("tampered stored claim", func() {
		c, err := s.claimDB.Get(s.ctx, reg.Claim.ID)
		s.Require().NoError(err)
		c.Data = claim.UserName{Name: "Mallory", Email: "ada@example.com"}
		s.Require().NoError(s.claimDB.Save(s.ctx, c))

		_, err = svc.CredentialFlow(s.ctx, auth.Credentials{Email: "ada@example.com", Password: "s3cret!"})
		s.requireKind(err, auth.KindGenericError)
	})
}

func (s *ServiceSuite) TestLogoutAndAuthenticate() {
	svc := s.instant()
	res, err := svc.WalletFlow(s.ctx, s.wallet())
	s.Require().NoError(err)

	sess, err := svc.Authenticate(s.ctx, res.Session.Token)
	s.Require().NoError(err)
	s.Equal(res.Session.ID, sess.ID)

	s.Require().NoError(svc.Logout(s.ctx, res.Identity.DID))
	s.Equal(session.StateDisconnected, svc.State(s.ctx, res.Identity.DID))
	s.Contains(s.actions(), audit.ActionSessionRevoked)

	_, err = svc.Authenticate(s.ctx, res.Session.Token)
	s.requireKind(err, auth.KindInvalidCredentials)
}

func TestKindOf(t *testing.T) {
	if auth.KindOf(errors.New("plain")) != auth.KindGenericError {
		t.Fatal("plain errors map to GenericError")
	}
	if auth.KindOf(&auth.Error{Kind: auth.KindWrongNetwork}) != auth.KindWrongNetwork {
		t.Fatal("kind is preserved")
	}
}
