package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/audit"
	"switchboard.dev/internal/auth"
)

// Login exchanges credentials for a bearer token.
type Login interface {
	Login(ctx context.Context, login, password string) (string, time.Time, auth.Principal, error)
}

type tokenRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var req tokenRequest
	if err := decodeStrict(data, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	token, expiresAt, principal, err := a.login.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"login": req.Login})
			handleServiceError(w, r, apperr.Unauthorized(apperr.CodeInvalidCredentials))
			return
		}
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(auth.ContextWithPrincipal(r.Context(), principal), "auth.token.issued", map[string]any{
		"login":      principal.Login,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}
