package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"idport.org/internal/audit"
	"idport.org/internal/bankid"
	"idport.org/internal/obs"
)

type bankIDAuthResponse struct {
	OrderRef       string `json:"order_ref"`
	AutoStartToken string `json:"auto_start_token"`
}

func (a *API) bankIDAvailable(w http.ResponseWriter, r *http.Request) bool {
	if a.bankid == nil {
		writeError(w, r, http.StatusServiceUnavailable, "bankid service unavailable")
		return false
	}
	return true
}

// bankIDOrderRef pulls the order reference from a /v1/bankid/<op>/{orderRef}
// path. Nested paths are rejected.
func bankIDOrderRef(r *http.Request, prefix string) (string, bool) {
	ref := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if ref == "" || strings.Contains(ref, "/") {
		return "", false
	}
	return ref, true
}

func (a *API) handleBankIDAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.bankIDAvailable(w, r) {
		return
	}

	order, err := a.bankid.Initiate(r.Context(), clientIP(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveBankIDOrder()
	_ = audit.LogEvent(r.Context(), "bankid.initiated", map[string]any{
		"order_ref": order.OrderRef,
	})
	writeJSON(w, http.StatusCreated, bankIDAuthResponse{
		OrderRef:       order.OrderRef,
		AutoStartToken: order.AutoStartToken,
	})
}

func (a *API) handleBankIDQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.bankIDAvailable(w, r) {
		return
	}
	orderRef, ok := bankIDOrderRef(r, "/v1/bankid/qr/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	img, err := a.bankid.GenerateQRCodeImage(r.Context(), orderRef)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// The payload rotates every second; caching would serve stale codes.
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func (a *API) handleBankIDCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.bankIDAvailable(w, r) {
		return
	}
	orderRef, ok := bankIDOrderRef(r, "/v1/bankid/collect/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	res, err := a.bankid.Poll(r.Context(), orderRef)
	if err != nil {
		switch {
		case errors.Is(err, bankid.ErrRejected):
			obs.ObserveBankIDPoll("failed")
		case errors.Is(err, bankid.ErrUpstream):
			obs.ObserveBankIDPoll("upstream_error")
		default:
			obs.ObserveBankIDPoll("error")
		}
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveBankIDPoll(res.Status)
	if res.Tokens != nil {
		_ = audit.LogEvent(r.Context(), "bankid.completed", map[string]any{
			"order_ref": orderRef,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleBankIDCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.bankIDAvailable(w, r) {
		return
	}
	orderRef, ok := bankIDOrderRef(r, "/v1/bankid/cancel/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if err := a.bankid.Cancel(r.Context(), orderRef); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "bankid.cancelled", map[string]any{
		"order_ref": orderRef,
	})
	w.WriteHeader(http.StatusNoContent)
}
