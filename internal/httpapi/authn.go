package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"idport.org/internal/auth"
	"idport.org/internal/obs"
)

const (
	authHeader   = "Authorization"
	bearerScheme = "Bearer "
)

// withAuth resolves the bearer token into a principal. A request without an
// Authorization header proceeds anonymously; per-route checks decide what an
// anonymous principal may do. A header that is present but malformed or
// carries an invalid token is rejected here.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			obs.ObserveTokenVerification("malformed")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		user, err := a.tokens.VerifyAccessToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				obs.ObserveTokenVerification("expired")
				writeError(w, r, http.StatusUnauthorized, "token has expired")
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUserNotFound):
				obs.ObserveTokenVerification("invalid")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				obs.ObserveTokenVerification("error")
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		principal, err := a.directory.PrincipalFor(r.Context(), user)
		if err != nil {
			obs.ObserveTokenVerification("error")
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		obs.ObserveTokenVerification("ok")

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
