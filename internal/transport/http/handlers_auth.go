package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zkpauth/internal/auth"
	"zkpauth/internal/session"
	"zkpauth/pkg/platform/httputil"
	"zkpauth/pkg/requestcontext"
)

// AuthService runs the authentication flows.
type AuthService interface {
	Register(ctx context.Context, r auth.Registration) (*auth.RegisterResult, error)
	CredentialFlow(ctx context.Context, cred auth.Credentials, opts ...auth.FlowOption) (*auth.Result, error)
	WalletFlow(ctx context.Context, w auth.WalletInfo, opts ...auth.FlowOption) (*auth.Result, error)
	Logout(ctx context.Context, did string) error
	Restore(ctx context.Context, did string) (*session.Session, error)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type walletLoginRequest struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	ChainID   int64  `json:"chainId"`
}

type userResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	DID          string    `json:"did"`
	ClaimID      uuid.UUID `json:"claimId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type registerResponse struct {
	User     userResponse `json:"user"`
	Identity any          `json:"identity"`
	Claim    any          `json:"claim"`
}

type errorResponse struct {
	Error            auth.Kind `json:"error"`
	ErrorDescription string    `json:"error_description"`
}

// AuthHandler exposes the authentication flows.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

func NewAuthHandler(service AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

// Register mounts the public routes behind limit, when set. requireSession guards the
// routes that need a live session.
func (h *AuthHandler) Register(r chi.Router, requireSession, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/register", h.HandleRegister)
		r.Post("/login", h.HandleLogin)
		r.Post("/wallet-login", h.HandleWalletLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/session", h.HandleSession)
		r.Post("/logout", h.HandleLogout)
	})
}

func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Register(r.Context(), auth.Registration{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeAuthError(w, r, "register", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		User: userResponse{
			ID:           res.User.ID,
			Name:         res.User.Name,
			Email:        res.User.Email,
			DID:          res.User.IdentityRef,
			ClaimID:      res.User.ClaimRef,
			RegisteredAt: res.User.RegisteredAt,
		},
		Identity: res.Identity,
		Claim:    res.Claim,
	})
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.CredentialFlow(r.Context(), auth.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeAuthError(w, r, "login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) HandleWalletLogin(w http.ResponseWriter, r *http.Request) {
	var req walletLoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.WalletFlow(r.Context(), auth.WalletInfo{Connected: req.Connected, Address: req.Address, ChainID: req.ChainID})
	if err != nil {
		h.writeAuthError(w, r, "wallet_login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	did := requestcontext.SubjectDID(r.Context())
	sess, err := h.service.Restore(r.Context(), did)
	if err != nil {
		h.writeAuthError(w, r, "session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	did := requestcontext.SubjectDID(r.Context())
	if err := h.service.Logout(r.Context(), did); err != nil {
		h.writeAuthError(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	kind := auth.KindOf(err)
	h.logger.InfoContext(ctx, "authentication request rejected",
		"operation", op,
		"kind", kind,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, statusForKind(kind), errorResponse{Error: kind, ErrorDescription: err.Error()})
}

func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindWalletNotConnected, auth.KindWrongNetwork, auth.KindInvalidRegistration:
		return http.StatusBadRequest
	case auth.KindUserNotRegistered, auth.KindInvalidCredentials, auth.KindZKPVerificationFailed:
		return http.StatusUnauthorized
	case auth.KindUserAlreadyExists, auth.KindAttemptInProgress:
		return http.StatusConflict
	case auth.KindIssuerServiceUnavailable:
		return http.StatusServiceUnavailable
	case auth.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
