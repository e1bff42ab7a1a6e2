package httpapi

import (
	"errors"
	"net/http"
	"time"

	"idport.org/internal/audit"
	"idport.org/internal/auth"
	"idport.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.tokens.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.ObserveLogin("failure")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		obs.ObserveLogin("error")
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	obs.ObserveLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":    user.ID,
		"account_id": user.AccountID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	access, expiresAt, err := a.tokens.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, auth.ErrExpiredRefreshToken):
			writeError(w, r, http.StatusUnauthorized, "refresh token has expired")
		default:
			writeError(w, r, http.StatusInternalServerError, "token refresh failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
	})
}

// handleLogout revokes every refresh token the actor holds. Access tokens
// stay valid until they expire; only the refresh chain is cut.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorize(w, r, a.resolver.Authenticated()) {
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.tokens.RevokeAllRefreshTokens(r.Context(), principal.User.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}
