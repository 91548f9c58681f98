package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zkpauth/internal/wallet"
	"zkpauth/pkg/platform/httputil"
)

// WalletStatus reports the last polled wallet state.
type WalletStatus interface {
	Latest() wallet.Snapshot
}

type WalletHandler struct {
	status WalletStatus
}

func NewWalletHandler(status WalletStatus) *WalletHandler {
	return &WalletHandler{status: status}
}

func (h *WalletHandler) Register(r chi.Router) {
	r.Get("/networks", h.HandleNetworks)
	if h.status != nil {
		r.Get("/", h.HandleStatus)
	}
}

func (h *WalletHandler) HandleNetworks(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, wallet.Networks())
}

func (h *WalletHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.status.Latest())
}
