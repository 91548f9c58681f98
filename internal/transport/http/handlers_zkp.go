package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zkpauth/internal/issuer"
	"zkpauth/pkg/platform/httputil"
	"zkpauth/pkg/requestcontext"
)

// IssuerFacade is the issuer node surface exposed under /api/zkp.
type IssuerFacade interface {
	Status(ctx context.Context) issuer.Result
	CreateIdentity(ctx context.Context, userData map[string]any) issuer.Result
	CreateClaim(ctx context.Context, did string, claimData *issuer.ClaimRequest) issuer.Result
	CreateCredential(ctx context.Context, userData map[string]any, claimData *issuer.ClaimRequest) issuer.Result
	VerifyProof(ctx context.Context, proof json.RawMessage, publicSignals []string) issuer.Result
	GetCredential(ctx context.Context, id string) issuer.Result
	GetClaims(ctx context.Context, did string) issuer.Result
	PublishState(ctx context.Context, did string) issuer.Result
	GetClaimQR(ctx context.Context, did, claimID string) issuer.Result
	IssuerInfo(ctx context.Context) issuer.Result
	CreateConnection(ctx context.Context, did string) issuer.Result
}

type createIdentityRequest struct {
	UserData map[string]any `json:"userData"`
}

type createClaimRequest struct {
	IdentityDID string               `json:"identityDID"`
	ClaimData   *issuer.ClaimRequest `json:"claimData"`
}

type createCredentialRequest struct {
	UserData  map[string]any       `json:"userData"`
	ClaimData *issuer.ClaimRequest `json:"claimData"`
}

type verifyProofRequest struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals []string        `json:"publicSignals"`
}

// ZKPHandler proxies the issuer node for front-end callers.
type ZKPHandler struct {
	facade IssuerFacade
	logger *slog.Logger
}

func NewZKPHandler(facade IssuerFacade, logger *slog.Logger) *ZKPHandler {
	return &ZKPHandler{facade: facade, logger: logger}
}

// Register mounts the issuer routes on r. The caller chooses the prefix.
func (h *ZKPHandler) Register(r chi.Router) {
	r.Get("/status", h.HandleStatus)
	r.Post("/create-identity", h.HandleCreateIdentity)
	r.Post("/create-claim", h.HandleCreateClaim)
	r.Post("/create-credential", h.HandleCreateCredential)
	r.Post("/verify-proof", h.HandleVerifyProof)
	r.Get("/credential/{id}", h.HandleGetCredential)
	r.Get("/claims/{identityDID}", h.HandleGetClaims)
	r.Get("/qr/{identityDID}/{claimId}", h.HandleGetClaimQR)
	r.Post("/publish-state/{identityDID}", h.HandlePublishState)
	r.Post("/connections/{identityDID}", h.HandleCreateConnection)
	r.Get("/issuer-info", h.HandleIssuerInfo)
}

func (h *ZKPHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "status", h.facade.Status(r.Context()), http.StatusInternalServerError)
}

func (h *ZKPHandler) HandleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, "create_identity", h.facade.CreateIdentity(r.Context(), req.UserData), http.StatusBadRequest)
}

func (h *ZKPHandler) HandleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, "create_claim", h.facade.CreateClaim(r.Context(), req.IdentityDID, req.ClaimData), http.StatusBadRequest)
}

func (h *ZKPHandler) HandleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	res := h.facade.CreateCredential(r.Context(), req.UserData, req.ClaimData)
	h.respond(w, r, "create_credential", res, http.StatusInternalServerError)
}

func (h *ZKPHandler) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, "verify_proof", h.facade.VerifyProof(r.Context(), req.Proof, req.PublicSignals), http.StatusBadRequest)
}

func (h *ZKPHandler) HandleGetCredential(w http.ResponseWriter, r *http.Request) {
	res := h.facade.GetCredential(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, "get_credential", res, http.StatusNotFound)
}

func (h *ZKPHandler) HandleGetClaims(w http.ResponseWriter, r *http.Request) {
	res := h.facade.GetClaims(r.Context(), chi.URLParam(r, "identityDID"))
	h.respond(w, r, "get_claims", res, http.StatusNotFound)
}

func (h *ZKPHandler) HandleGetClaimQR(w http.ResponseWriter, r *http.Request) {
	res := h.facade.GetClaimQR(r.Context(), chi.URLParam(r, "identityDID"), chi.URLParam(r, "claimId"))
	h.respond(w, r, "get_claim_qr", res, http.StatusNotFound)
}

func (h *ZKPHandler) HandlePublishState(w http.ResponseWriter, r *http.Request) {
	res := h.facade.PublishState(r.Context(), chi.URLParam(r, "identityDID"))
	h.respond(w, r, "publish_state", res, http.StatusBadRequest)
}

func (h *ZKPHandler) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	res := h.facade.CreateConnection(r.Context(), chi.URLParam(r, "identityDID"))
	h.respond(w, r, "create_connection", res, http.StatusBadRequest)
}

func (h *ZKPHandler) HandleIssuerInfo(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "issuer_info", h.facade.IssuerInfo(r.Context()), http.StatusInternalServerError)
}

// respond writes res with 200 on success and failStatus otherwise.
func (h *ZKPHandler) respond(w http.ResponseWriter, r *http.Request, op string, res issuer.Result, failStatus int) {
	if !res.Success {
		ctx := r.Context()
		h.logger.WarnContext(ctx, "issuer request failed",
			"operation", op,
			"message", res.Message,
			"error", res.Error,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteJSON(w, failStatus, res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *ZKPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, issuer.Result{Success: false, Message: "invalid request body", Error: err.Error()})
		return false
	}
	return true
}
