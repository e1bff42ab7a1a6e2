package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"idport.org/internal/auth"
	"idport.org/internal/bankid"
	"idport.org/internal/obs"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the collaborators the HTTP layer dispatches into, plus
// throttling limits applied by the middleware chain.
type Config struct {
	Tokens    *auth.TokenService
	Directory *auth.Directory
	Resolver  *auth.Resolver
	BankID    *bankid.Service
	Ready     ReadyProbe
	Version   string

	MaxBodyBytes    int64
	RateLimitPerSec int
	RateLimitBurst  int
}

// API is the HTTP boundary of the service.
type API struct {
	mux       *http.ServeMux
	tokens    *auth.TokenService
	directory *auth.Directory
	resolver  *auth.Resolver
	bankid    *bankid.Service
	ready     ReadyProbe
	version   string

	maxBodyBytes    int64
	rateLimitPerSec int
	rateLimitBurst  int
}

// New wires routes against the given collaborators.
func New(cfg Config) (*API, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("httpapi: token service is required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("httpapi: directory is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("httpapi: resolver is required")
	}
	a := &API{
		mux:             http.NewServeMux(),
		tokens:          cfg.Tokens,
		directory:       cfg.Directory,
		resolver:        cfg.Resolver,
		bankid:          cfg.BankID,
		ready:           cfg.Ready,
		version:         cfg.Version,
		maxBodyBytes:    cfg.MaxBodyBytes,
		rateLimitPerSec: cfg.RateLimitPerSec,
		rateLimitBurst:  cfg.RateLimitBurst,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if a.rateLimitPerSec <= 0 {
		a.rateLimitPerSec = 20
	}
	if a.rateLimitBurst <= 0 {
		a.rateLimitBurst = 40
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/bankid/auth", a.handleBankIDAuth)
	a.mux.HandleFunc("/v1/bankid/qr/", a.handleBankIDQR)
	a.mux.HandleFunc("/v1/bankid/collect/", a.handleBankIDCollect)
	a.mux.HandleFunc("/v1/bankid/cancel/", a.handleBankIDCancel)

	a.mux.HandleFunc("/v1/accounts", a.handleAccounts)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/groups", a.handleGroups)
	a.mux.HandleFunc("/v1/groups/", a.handleGroupResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the full middleware chain around the route mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = Logging(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateLimitBurst, a.rateLimitPerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "idport-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors onto HTTP statuses.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrPermissionUndefined):
		// A referenced codename with no catalog row is a deployment fault,
		// not a denial: the permission seed and the handler disagree.
		obs.LogEvent(map[string]any{
			"level":      "error",
			"event":      "permission.undefined",
			"error":      err.Error(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, bankid.ErrOrderNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, bankid.ErrSessionExpired),
		errors.Is(err, bankid.ErrRejected),
		errors.Is(err, bankid.ErrNoAssociatedAccount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, bankid.ErrUpstream):
		writeError(w, r, http.StatusBadGateway, "identification provider unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// authorize runs resolver checks for the request's principal and writes the
// mapped error response on failure.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, checks ...auth.Check) bool {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.resolver.Authorize(r.Context(), principal, checks...); err != nil {
		handleDomainError(w, r, err)
		return false
	}
	return true
}
