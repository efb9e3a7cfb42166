package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Service authenticates admins by password and by bearer token.
type Service struct {
	store  CredentialStore
	tokens *Tokens
}

// NewService constructs a Service.
func NewService(store CredentialStore, tokens *Tokens) *Service {
	return &Service{store: store, tokens: tokens}
}

// Login verifies login and password and issues a token.
func (s *Service) Login(ctx context.Context, login, password string) (string, time.Time, Principal, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return "", time.Time{}, Principal{}, ErrInvalidCredentials
	}
	creds, err := s.store.CredentialsByLogin(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return "", time.Time{}, Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	if !creds.IsActive {
		return "", time.Time{}, Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(creds.PasswordHash, password); err != nil {
		return "", time.Time{}, Principal{}, ErrInvalidCredentials
	}
	p := creds.Principal()
	token, expires, err := s.tokens.Generate(p)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, expires, p, nil
}

// Authenticate resolves a bearer token into a principal. The admin record is
// re-read so that deactivation and role changes apply to live tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	id, err := claims.UserID()
	if err != nil {
		return Principal{}, err
	}
	creds, err := s.store.CredentialsByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if !creds.IsActive {
		return Principal{}, ErrInvalidToken
	}
	return creds.Principal(), nil
}
