package httptransport_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"zkpauth/internal/auth"
	"zkpauth/internal/issuer"
	"zkpauth/internal/issuer/mocks"
	"zkpauth/internal/platform/metrics"
	"zkpauth/internal/ratelimit"
	"zkpauth/internal/session"
	httptransport "zkpauth/internal/transport/http"
	"zkpauth/internal/wallet"
	tu "zkpauth/pkg/testutil"
)

const subjectDID = "did:iden3:polygon:amoy:x3HstHLj2rTp6HHXk2WczYP7w3rpCsRbwCMeaQ2H2"

type stubAuth struct {
	walletResult *auth.Result
	err          error
	loggedOut    string
	lastWallet   auth.WalletInfo
}

func (s *stubAuth) Register(context.Context, auth.Registration) (*auth.RegisterResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.RegisterResult{User: auth.RegisteredUser{
		ID:           uuid.New(),
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: []byte("$2a$10$secret"),
		IdentityRef:  subjectDID,
	}}, nil
}

func (s *stubAuth) CredentialFlow(context.Context, auth.Credentials, ...auth.FlowOption) (*auth.Result, error) {
	return nil, s.err
}

func (s *stubAuth) WalletFlow(_ context.Context, w auth.WalletInfo, _ ...auth.FlowOption) (*auth.Result, error) {
	s.lastWallet = w
	if s.err != nil {
		return nil, s.err
	}
	return s.walletResult, nil
}

func (s *stubAuth) Logout(_ context.Context, did string) error {
	s.loggedOut = did
	return nil
}

func (s *stubAuth) Restore(_ context.Context, did string) (*session.Session, error) {
	return &session.Session{SubjectDID: did, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(_ context.Context, token string) (*session.Session, error) {
	if token != "good" {
		return nil, &auth.Error{Kind: auth.KindInvalidCredentials, Message: "invalid"}
	}
	return &session.Session{ID: uuid.New(), SubjectDID: subjectDID}, nil
}

type stubWallet struct{}

func (stubWallet) Latest() wallet.Snapshot {
	return wallet.Snapshot{ChainID: 80002, Balance: "1.0000 MATIC"}
}

type RouterSuite struct {
	suite.Suite
	gateway *mocks.MockGateway
	auth    *stubAuth
	handler http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.gateway = mocks.NewMockGateway(ctrl)
	s.auth = &stubAuth{}
	reg := prometheus.NewRegistry()
	s.handler = httptransport.NewRouter(httptransport.Deps{
		Auth:          s.auth,
		Authenticator: stubAuthenticator{},
		Facade:        issuer.NewFacade(s.gateway, logger),
		Wallet:        stubWallet{},
		Metrics:       metrics.NewWith(reg),
		Gatherer:      reg,
		Logger:        logger,
	})
}

func (s *RouterSuite) do(req *http.Request) (*http.Response, map[string]any) {
	rr := tu.DoRequest(s.handler, req)
	var body map[string]any
	if rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
	}
	return rr.Result(), body
}

func (s *RouterSuite) TestHealth() {
	resp, body := s.do(tu.NewRequest(s.T(), http.MethodGet, "/health"))
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("OK", body["status"])
}

func (s *RouterSuite) TestMetricsExposesRequestCounter() {
	s.do(tu.NewRequest(s.T(), http.MethodGet, "/health"))
	rr := tu.DoRequest(s.handler, tu.NewRequest(s.T(), http.MethodGet, "/metrics"))
	tu.AssertStatus(s.T(), rr, http.StatusOK)
	s.Contains(rr.Body.String(), "zkpauth_http_requests_total")
}

func (s *RouterSuite) TestZKPStatus() {
	s.Run("connected", func() {
		s.gateway.EXPECT().Status(gomock.Any()).Return(json.RawMessage(`{"status":"ok"}`), nil)
		resp, body := s.do(tu.NewRequest(s.T(), http.MethodGet, "/api/zkp/status"))
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal(true, body["success"])
		s.Equal(map[string]any{"status": "ok"}, body["data"])
	})

	s.Run("unreachable issuer is a server error", func() {
		s.gateway.EXPECT().Status(gomock.Any()).Return(nil, &issuer.Error{Op: "status", Message: "request timed out"})
		resp, body := s.do(tu.NewRequest(s.T(), http.MethodGet, "/api/zkp/status"))
		s.Equal(http.StatusInternalServerError, resp.StatusCode)
		s.Equal(false, body["success"])
		s.Equal("request timed out", body["error"])
	})
}

func (s *RouterSuite) TestZKPCreateClaimMissingFields() {
	req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/zkp/create-claim", map[string]any{"identityDID": subjectDID})
	resp, body := s.do(req)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("missing required fields: identityDID, claimData", body["message"])
}

func (s *RouterSuite) TestZKPCreateClaim() {
	s.gateway.EXPECT().
		CreateClaim(gomock.Any(), subjectDID, gomock.Any()).
		Return(issuer.ClaimResponse{ID: "claim-1"}, nil)

	req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/zkp/create-claim", map[string]any{
		"identityDID": subjectDID,
		"claimData":   map[string]any{"credentialSubject": map[string]any{"birthday": 19960424}},
	})
	resp, body := s.do(req)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(map[string]any{"id": "claim-1"}, body["data"])
}

func (s *RouterSuite) TestZKPInvalidBody() {
	req := tu.NewRequest(s.T(), http.MethodPost, "/api/zkp/create-identity")
	resp, body := s.do(req)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal(false, body["success"])
}

func (s *RouterSuite) TestZKPLookupsReturnNotFound() {
	s.gateway.EXPECT().GetCredential(gomock.Any(), "cred-1").Return(nil, &issuer.Error{Op: "get_credential", StatusCode: 404, Message: "not found"})
	resp, body := s.do(tu.NewRequest(s.T(), http.MethodGet, "/api/zkp/credential/cred-1"))
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("credential not found", body["message"])

	s.gateway.EXPECT().GetClaimQR(gomock.Any(), subjectDID, "claim-1").Return(nil, &issuer.Error{Op: "get_claim_qr", StatusCode: 404, Message: "not found"})
	resp, _ = s.do(tu.NewRequest(s.T(), http.MethodGet, "/api/zkp/qr/"+subjectDID+"/claim-1"))
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *RouterSuite) TestZKPVerifyProof() {
	s.gateway.EXPECT().VerifyProof(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{"ok":true}`), nil)
	req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/zkp/verify-proof", map[string]any{
		"proof":         map[string]any{"pi_a": []string{"1", "2"}},
		"publicSignals": []string{"abc"},
	})
	resp, body := s.do(req)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["verified"])
}

func (s *RouterSuite) TestWalletLogin() {
	s.Run("success", func() {
		s.auth.err = nil
		s.auth.walletResult = &auth.Result{Session: &session.Session{SubjectDID: subjectDID, Token: "tok"}}
		req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/auth/wallet-login", map[string]any{
			"connected": true,
			"address":   "0x52908400098527886E0F7030069857D2E4169EE7",
			"chainId":   80002,
		})
		resp, body := s.do(req)
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal(int64(80002), s.auth.lastWallet.ChainID)
		s.Equal("tok", body["session"].(map[string]any)["token"])
	})

	s.Run("wrong network is a bad request", func() {
		s.auth.err = &auth.Error{Kind: auth.KindWrongNetwork, Message: "switch network"}
		req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/auth/wallet-login", map[string]any{"connected": true})
		resp, body := s.do(req)
		s.Equal(http.StatusBadRequest, resp.StatusCode)
		s.Equal("WrongNetwork", body["error"])
		s.Equal("switch network", body["error_description"])
	})
}

func (s *RouterSuite) TestLoginRejected() {
	s.auth.err = &auth.Error{Kind: auth.KindInvalidCredentials, Message: "Invalid credentials."}
	req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/auth/login", map[string]any{"email": "a@b.co", "password": "nope"})
	resp, body := s.do(req)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("InvalidCredentials", body["error"])
}

func (s *RouterSuite) TestRegisterHidesPasswordHash() {
	req := tu.NewJSONRequest(s.T(), http.MethodPost, "/api/auth/register", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "secret1",
	})
	rr := tu.DoRequest(s.handler, req)
	tu.AssertStatus(s.T(), rr, http.StatusCreated)
	s.NotContains(rr.Body.String(), "secret")
	s.Contains(rr.Body.String(), subjectDID)
}

func (s *RouterSuite) TestSessionRoutesRequireToken() {
	resp, _ := s.do(tu.NewRequest(s.T(), http.MethodGet, "/api/auth/session"))
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	req := tu.NewRequest(s.T(), http.MethodGet, "/api/auth/session")
	req.Header.Set("Authorization", "Bearer bad")
	resp, _ = s.do(req)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	req = tu.NewRequest(s.T(), http.MethodGet, "/api/auth/session")
	req.Header.Set("Authorization", "Bearer good")
	resp, body := s.do(req)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(subjectDID, body["did"])

	req = tu.NewRequest(s.T(), http.MethodPost, "/api/auth/logout")
	req.Header.Set("Authorization", "Bearer good")
	resp, _ = s.do(req)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal(subjectDID, s.auth.loggedOut)
}

func (s *RouterSuite) TestWallet() {
	rr := tu.DoRequest(s.handler, tu.NewRequest(s.T(), http.MethodGet, "/api/wallet/networks"))
	tu.AssertStatus(s.T(), rr, http.StatusOK)
	networks := tu.UnmarshalResponse[[]wallet.Network](s.T(), rr)
	s.Len(*networks, 2)

	rr = tu.DoRequest(s.handler, tu.NewRequest(s.T(), http.MethodGet, "/api/wallet/"))
	tu.AssertStatus(s.T(), rr, http.StatusOK)
	snap := tu.UnmarshalResponse[wallet.Snapshot](s.T(), rr)
	s.Equal("1.0000 MATIC", snap.Balance)
}

func TestRouterWithoutIssuer(t *testing.T) {
	handler := httptransport.NewRouter(httptransport.Deps{Auth: &stubAuth{}, Authenticator: stubAuthenticator{}})
	rr := tu.DoRequest(handler, tu.NewRequest(t, http.MethodGet, "/api/zkp/status"))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = tu.DoRequest(handler, tu.NewRequest(t, http.MethodGet, "/health"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubAuth{err: &auth.Error{Kind: auth.KindInvalidCredentials, Message: "Invalid credentials."}}
	handler := httptransport.NewRouter(httptransport.Deps{
		Auth:          stub,
		Authenticator: stubAuthenticator{},
		AuthLimit:     ratelimit.PerClient(ratelimit.NewWindow(1, time.Minute), logger, nil),
		Logger:        logger,
	})

	login := func() int {
		req := tu.NewJSONRequest(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "a@b.co", "password": "nope"})
		return tu.DoRequest(handler, req).Code
	}
	assert.Equal(t, http.StatusUnauthorized, login())
	assert.Equal(t, http.StatusTooManyRequests, login())

	req := tu.NewRequest(t, http.MethodGet, "/api/auth/session")
	req.Header.Set("Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, tu.DoRequest(handler, req).Code, "session routes are not limited")
}
