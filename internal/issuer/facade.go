package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// Result is the envelope returned to front-end callers. Operations never return Go
// errors across this boundary; failures set Success=false and Error.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Verified *bool  `json:"verified,omitempty"`
}

// CredentialBundle is the data of a successful CreateCredential.
type CredentialBundle struct {
	Identity IdentityResponse `json:"identity"`
	Claim    ClaimResponse    `json:"claim"`
	QRCode   json.RawMessage  `json:"qrCode,omitempty"`
}

// Facade exposes the issuer operations to front-end callers.
type Facade struct {
	gateway Gateway
	logger  *slog.Logger
}

func NewFacade(gateway Gateway, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{gateway: gateway, logger: logger}
}

func ok(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func failed(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			r.Error = ie.Message
		} else {
			r.Error = err.Error()
		}
	}
	return r
}

func (f *Facade) Status(ctx context.Context) Result {
	data, err := f.gateway.Status(ctx)
	if err != nil {
		return failed("issuer node unreachable", err)
	}
	return ok("issuer node connected", data)
}

// CreateIdentity creates an upstream identity. userData is only logged; the issuer
// derives the identity from the DID metadata.
func (f *Facade) CreateIdentity(ctx context.Context, userData map[string]any) Result {
	f.logger.DebugContext(ctx, "creating issuer identity", "fields", len(userData))
	identity, err := f.gateway.CreateIdentity(ctx, DefaultDIDMetadata)
	if err != nil {
		return failed("failed to create identity", err)
	}
	return ok("identity created", identity)
}

func (f *Facade) CreateClaim(ctx context.Context, did string, claimData *ClaimRequest) Result {
	if strings.TrimSpace(did) == "" || claimData == nil {
		return failed("missing required fields: identityDID, claimData", nil)
	}
	claim, err := f.gateway.CreateClaim(ctx, did, *claimData)
	if err != nil {
		return failed("failed to create claim", err)
	}
	return ok("claim created", claim)
}

// CreateCredential creates an identity and a claim under it. The QR code is fetched
// best-effort and omitted when unavailable.
func (f *Facade) CreateCredential(ctx context.Context, userData map[string]any, claimData *ClaimRequest) Result {
	if claimData == nil {
		return failed("missing required fields: claimData", nil)
	}
	identity, err := f.gateway.CreateIdentity(ctx, DefaultDIDMetadata)
	if err != nil {
		return failed("failed to create identity", err)
	}

	claim, err := f.gateway.CreateClaim(ctx, identity.Identifier, *claimData)
	if err != nil {
		return failed("failed to create claim", err)
	}

	bundle := CredentialBundle{Identity: identity, Claim: claim}
	qr, err := f.gateway.GetClaimQR(ctx, identity.Identifier, claim.ID)
	if err != nil {
		f.logger.WarnContext(ctx, "claim QR unavailable", "claim_id", claim.ID, "error", err)
	} else {
		bundle.QRCode = qr
	}
	f.logger.InfoContext(ctx, "credential created", "did", identity.Identifier, "claim_id", claim.ID, "user_fields", len(userData))
	return ok("credential created", bundle)
}

func (f *Facade) VerifyProof(ctx context.Context, proof json.RawMessage, publicSignals []string) Result {
	if len(proof) == 0 || string(proof) == "null" || len(publicSignals) == 0 {
		verified := false
		r := failed("missing required fields: proof, publicSignals", nil)
		r.Verified = &verified
		return r
	}
	data, err := f.gateway.VerifyProof(ctx, VerifyRequest{Proof: proof, PublicSignals: publicSignals})
	verified := err == nil
	var r Result
	if err != nil {
		r = failed("proof verification failed", err)
	} else {
		r = ok("proof verified", data)
	}
	r.Verified = &verified
	return r
}

func (f *Facade) GetCredential(ctx context.Context, id string) Result {
	data, err := f.gateway.GetCredential(ctx, id)
	if err != nil {
		return failed("credential not found", err)
	}
	return ok("", data)
}

func (f *Facade) GetClaims(ctx context.Context, did string) Result {
	data, err := f.gateway.GetClaims(ctx, did)
	if err != nil {
		return failed("claims not found", err)
	}
	return ok("", data)
}

func (f *Facade) PublishState(ctx context.Context, did string) Result {
	data, err := f.gateway.PublishState(ctx, did)
	if err != nil {
		return failed("failed to publish state", err)
	}
	return ok("state published", data)
}

func (f *Facade) GetClaimQR(ctx context.Context, did, claimID string) Result {
	data, err := f.gateway.GetClaimQR(ctx, did, claimID)
	if err != nil {
		return failed("QR code not found", err)
	}
	return ok("", data)
}

func (f *Facade) IssuerInfo(ctx context.Context) Result {
	data, err := f.gateway.IssuerIdentities(ctx)
	if err != nil {
		return failed("failed to load issuer information", err)
	}
	return ok("", data)
}

func (f *Facade) CreateConnection(ctx context.Context, did string) Result {
	data, err := f.gateway.CreateConnection(ctx, did)
	if err != nil {
		return failed("failed to create connection", err)
	}
	return ok("connection created", data)
}
