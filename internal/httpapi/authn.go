package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/audit"
	"switchboard.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticator resolves bearer tokens into principals.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

func (a *API) isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", a.prefix + "/info", a.prefix + "/auth/token":
		return true
	}
	return false
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || a.isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			handleServiceError(w, r, apperr.Unauthorized(apperr.CodeUnauthorized, err.Error()))
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				_ = audit.LogEvent(r.Context(), "auth.token.rejected", map[string]any{"path": r.URL.Path})
				handleServiceError(w, r, apperr.Unauthorized(apperr.CodeUnauthorized, "invalid token"))
				return
			}
			handleServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
