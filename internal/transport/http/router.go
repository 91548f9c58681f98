// Package httptransport serves the authentication flows and the issuer proxy over HTTP.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zkpauth/internal/platform/metrics"
	"zkpauth/internal/platform/middleware"
	"zkpauth/pkg/platform/httputil"
)

// Deps are the collaborators the router mounts. Facade, Wallet, AuthLimit and
// TrustedProxies are optional.
type Deps struct {
	Auth           AuthService
	Authenticator  middleware.SessionAuthenticator
	AuthLimit      func(http.Handler) http.Handler
	Facade         IssuerFacade
	Wallet         WalletStatus
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	TrustedProxies middleware.TrustedProxies
	Logger         *slog.Logger
}

// NewRouter wires all public endpoints.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestMetadata(d.TrustedProxies))
	r.Use(chimw.Recoverer)
	r.Use(d.Metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "ZKP backend running"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if d.Auth != nil {
		authHandler := NewAuthHandler(d.Auth, logger)
		r.Route("/api/auth", func(r chi.Router) {
			authHandler.Register(r, middleware.RequireSession(d.Authenticator, logger), d.AuthLimit)
		})
	}
	if d.Facade != nil {
		zkp := NewZKPHandler(d.Facade, logger)
		r.Route("/api/zkp", zkp.Register)
	}
	r.Route("/api/wallet", NewWalletHandler(d.Wallet).Register)
	return r
}
