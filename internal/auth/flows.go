package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"zkpauth/internal/audit"
	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
	"zkpauth/internal/issuer"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
	dErrors "zkpauth/pkg/domain-errors"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
)

// WalletFlow authenticates the holder of a connected wallet. The wallet must be on the
// required chain; that is checked before any identity work. The subject's in-flight
// slot is taken right after derivation, before the issuer is contacted.
func (s *Service) WalletFlow(ctx context.Context, w WalletInfo, opts ...FlowOption) (*Result, error) {
	start := s.clock()
	a := s.sessions.Start(identity.MethodWallet)

	if !w.Connected || strings.TrimSpace(w.Address) == "" {
		return nil, s.abort(ctx, a, "", start, KindWalletNotConnected, errors.New("wallet not connected"))
	}
	if w.ChainID != s.requiredChainID {
		return nil, s.abort(ctx, a, "", start, KindWrongNetwork,
			fmt.Errorf("wallet on chain %d, required %d", w.ChainID, s.requiredChainID))
	}

	id, err := s.deriver.Derive(a.Method, identity.WalletPayload{Address: w.Address})
	if err != nil {
		return nil, s.abort(ctx, a, "", start, KindWalletNotConnected, err)
	}
	if err := s.sessions.Reserve(a, id.DID); err != nil {
		return nil, s.abort(ctx, a, id.DID, start, classify(err, KindGenericError), err)
	}

	result := &Result{Identity: id}
	if s.gateway != nil {
		upstream, err := s.gateway.CreateIdentity(ctx, issuer.DefaultDIDMetadata)
		if err != nil {
			return nil, s.abort(ctx, a, id.DID, start, classify(err, KindIssuerServiceUnavailable), err)
		}
		result.UpstreamDID = upstream.Identifier
	}

	c, err := s.claims.Issue(ctx, id, claim.TypeWalletOwner, claim.WalletOwner{Address: w.Address, ChainID: w.ChainID})
	if err != nil {
		return nil, s.abort(ctx, a, id.DID, start, classify(err, KindGenericError), err)
	}
	result.Claim = c

	// the claim is stored only once its proof has verified
	if err := s.prove(ctx, a, result, start, true, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// Register creates a credential-flow account: identity, UserName claim and the stored
// user record.
func (s *Service) Register(ctx context.Context, r Registration) (*RegisterResult, error) {
	email := strings.ToLower(strings.TrimSpace(r.Email))
	name := strings.TrimSpace(r.Name)
	if err := validateRegistration(name, email, r.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, newError(KindUserAlreadyExists, "")
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		s.logger.ErrorContext(ctx, "failed to look up user", "error", err)
		return nil, newError(KindGenericError, "")
	}

	id, err := s.deriver.Derive(identity.MethodCredential, identity.CredentialPayload{Email: email, Password: r.Password})
	if err != nil {
		s.logger.WarnContext(ctx, "registration identity rejected", "error", err)
		return nil, newError(KindInvalidRegistration, "")
	}

	c, err := s.claims.Issue(ctx, id, claim.TypeUserName, claim.UserName{Name: name, Email: email})
	if err != nil {
		s.logger.ErrorContext(ctx, "registration claim failed", "did", id.DID, "error", err)
		return nil, newError(classify(err, KindGenericError), "")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", "error", err)
		return nil, newError(KindGenericError, "")
	}

	user := RegisteredUser{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IdentityRef:  id.DID,
		ClaimRef:     c.ID,
		RegisteredAt: s.clock(),
	}
	if err := s.claimDB.Save(ctx, c); err != nil {
		s.logger.ErrorContext(ctx, "failed to store registration claim", "error", err)
		return nil, newError(KindGenericError, "")
	}
	if err := s.users.Create(ctx, user); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, newError(KindUserAlreadyExists, "")
		}
		s.logger.ErrorContext(ctx, "failed to store user", "error", err)
		return nil, newError(KindGenericError, "")
	}

	s.metrics.IncrementRegistrations()
	s.emit(ctx, audit.Event{Action: audit.ActionUserRegistered, SubjectDID: id.DID, Method: string(identity.MethodCredential)})
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "did", id.DID)
	return &RegisterResult{User: user, Identity: id, Claim: c}, nil
}

func validateRegistration(name, email, password string) error {
	if len([]rune(name)) < minNameLength {
		return newError(KindInvalidRegistration, fmt.Sprintf("Name must be at least %d characters.", minNameLength))
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return newError(KindInvalidRegistration, "Email is invalid.")
	}
	if len(password) < minPasswordLength {
		return newError(KindInvalidRegistration, fmt.Sprintf("Password must be at least %d characters.", minPasswordLength))
	}
	return nil
}

// CredentialFlow authenticates a registered user. Unknown emails and wrong passwords
// are rejected before any proof work.
func (s *Service) CredentialFlow(ctx context.Context, cred Credentials, opts ...FlowOption) (*Result, error) {
	start := s.clock()
	a := s.sessions.Start(identity.MethodCredential)
	email := strings.ToLower(strings.TrimSpace(cred.Email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, s.abort(ctx, a, "", start, KindUserNotRegistered, err)
		}
		return nil, s.abort(ctx, a, "", start, KindGenericError, err)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(cred.Password)); err != nil {
		return nil, s.abort(ctx, a, user.IdentityRef, start, KindInvalidCredentials, errors.New("password mismatch"))
	}

	id, err := s.deriver.Derive(a.Method, identity.CredentialPayload{Email: email, Password: cred.Password})
	if err != nil {
		return nil, s.abort(ctx, a, user.IdentityRef, start, KindGenericError, err)
	}
	if id.DID != user.IdentityRef {
		return nil, s.abort(ctx, a, user.IdentityRef, start, KindGenericError,
			fmt.Errorf("derived identity %s does not match registered %s", id.DID, user.IdentityRef))
	}
	if err := s.sessions.Reserve(a, id.DID); err != nil {
		return nil, s.abort(ctx, a, id.DID, start, classify(err, KindGenericError), err)
	}

	c, err := s.claimDB.Get(ctx, user.ClaimRef)
	if err != nil {
		return nil, s.abort(ctx, a, id.DID, start, KindGenericError, err)
	}
	if !c.VerifyIntegrity() || c.IsExpired(s.clock()) {
		return nil, s.abort(ctx, a, id.DID, start, KindGenericError, errors.New("stored claim is no longer valid"))
	}

	result := &Result{Identity: id, Claim: c}
	if err := s.prove(ctx, a, result, start, false, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// prove runs the shared tail of both flows: generate, verify, commit, then the
// best-effort issuer follow-ups. saveClaim persists result.Claim between a successful
// verification and the commit.
func (s *Service) prove(ctx context.Context, a *session.Attempt, result *Result, start time.Time, saveClaim bool, opts []FlowOption) error {
	cfg := flowConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	id, c := result.Identity, result.Claim

	req := s.engine.BuildRequest(c)
	if err := s.sessions.Advance(a, session.StateGeneratingProof, id.DID); err != nil {
		return s.abort(ctx, a, id.DID, start, classify(err, KindGenericError), err)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	p, err := s.engine.Generate(genCtx, id, c, req, proof.WithProgress(cfg.progress))
	cancel()
	if err != nil {
		return s.abort(ctx, a, id.DID, start, classify(err, KindZKPGenerationFailed), err)
	}

	if err := s.sessions.Advance(a, session.StateVerifyingProof, id.DID); err != nil {
		return s.abort(ctx, a, id.DID, start, KindGenericError, err)
	}
	if !s.engine.Verify(p, &c) {
		return s.abort(ctx, a, id.DID, start, KindZKPVerificationFailed, errors.New("proof rejected"))
	}
	if saveClaim {
		if err := s.claimDB.Save(ctx, c); err != nil {
			return s.abort(ctx, a, id.DID, start, KindGenericError, err)
		}
	}

	sess, err := s.sessions.Commit(ctx, a, c.ID)
	if err != nil {
		return s.abort(ctx, a, id.DID, start, classify(err, KindGenericError), err)
	}
	result.Proof = p
	result.Session = sess

	s.metrics.ObserveAttempt(string(a.Method), "success", s.clock().Sub(start))
	s.emit(ctx, audit.Event{
		Action:     audit.ActionSessionCreated,
		SubjectDID: id.DID,
		Method:     string(a.Method),
		SessionID:  sess.ID.String(),
	})
	s.logger.InfoContext(ctx, "authentication succeeded",
		"did", id.DID,
		"method", string(a.Method),
		"claim_id", c.ID.String(),
		"proof_id", p.ID.String(),
	)

	s.afterCommit(ctx, result)
	return nil
}

// afterCommit anchors the issuer state and fetches the claim offer. Failures are only
// logged; the session is already committed.
func (s *Service) afterCommit(ctx context.Context, result *Result) {
	if s.gateway == nil {
		return
	}
	issuerDID := result.Claim.IssuerDID
	if _, err := s.gateway.PublishState(ctx, issuerDID); err != nil {
		s.logger.WarnContext(ctx, "issuer state publish failed", "issuer", issuerDID, "error", err)
	}
	if result.Claim.UpstreamID == "" {
		return
	}
	qr, err := s.gateway.GetClaimQR(ctx, issuerDID, result.Claim.UpstreamID)
	if err != nil {
		s.logger.WarnContext(ctx, "claim QR unavailable", "claim_id", result.Claim.UpstreamID, "error", err)
		return
	}
	result.QRCode = qr
}

// abort moves the attempt to error, records the failure and returns the taxonomy
// error. Nothing is committed. Once the caller's context is done every failure is
// reported as a cancellation, whatever stage noticed it.
func (s *Service) abort(ctx context.Context, a *session.Attempt, did string, start time.Time, kind Kind, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind = KindCancelled
		if !errors.Is(cause, context.Canceled) {
			cause = fmt.Errorf("%w by caller (%w): %w", context.Canceled, ctxErr, cause)
		}
	}
	method := string(a.Method)
	if a.State() != session.StateError {
		if err := s.sessions.Fail(a, cause); err != nil {
			s.logger.DebugContext(ctx, "attempt already terminal", "attempt_id", a.ID.String(), "error", err)
		}
	}
	s.logger.WarnContext(ctx, "authentication failed",
		"kind", string(kind),
		"method", method,
		"did", did,
		"error", cause,
	)
	s.metrics.ObserveAttempt(method, string(kind), s.clock().Sub(start))
	s.emit(ctx, audit.Event{Action: audit.ActionAuthFailed, SubjectDID: did, Method: method, Reason: string(kind)})
	return newError(kind, "")
}
