package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type stubCredentialStore struct {
	byLoginFn func(context.Context, string) (Credentials, error)
	byIDFn    func(context.Context, int64) (Credentials, error)
}

func (s *stubCredentialStore) CredentialsByLogin(ctx context.Context, login string) (Credentials, error) {
	if s.byLoginFn != nil {
		return s.byLoginFn(ctx, login)
	}
	return Credentials{}, ErrNotFound
}

func (s *stubCredentialStore) CredentialsByID(ctx context.Context, id int64) (Credentials, error) {
	if s.byIDFn != nil {
		return s.byIDFn(ctx, id)
	}
	return Credentials{}, ErrNotFound
}

func TestTokensGenerateAndParse(t *testing.T) {
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"), WithTTL(30*time.Minute))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, expires, err := tokens.Generate(Principal{ID: 42, Role: "reseller", ResellerID: 7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiration, got %v", expires)
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 42 {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Role != "reseller" || claims.ResellerID != 7 || claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestTokensRejectTampered(t *testing.T) {
	a, _ := NewTokens("secret-a")
	b, _ := NewTokens("secret-b")
	token, _, err := a.Generate(Principal{ID: 1, Role: "admin"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := b.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := a.Parse(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := a.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for empty input, got %v", err)
	}
}

func TestTokensExpire(t *testing.T) {
	now := time.Now()
	tokens, _ := NewTokens("secret", WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	token, _, err := tokens.Generate(Principal{ID: 1, Role: "admin"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected missing secret, got %v", err)
	}
}

func TestServiceLoginAndAuthenticate(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	active := true
	store := &stubCredentialStore{
		byLoginFn: func(_ context.Context, login string) (Credentials, error) {
			if login != "alice" {
				return Credentials{}, ErrNotFound
			}
			return Credentials{ID: 9, Login: "alice", PasswordHash: hash, Role: "admin", IsMaster: true, IsActive: true}, nil
		},
		byIDFn: func(_ context.Context, id int64) (Credentials, error) {
			return Credentials{ID: id, Login: "alice", Role: "admin", IsMaster: true, IsActive: active}, nil
		},
	}
	tokens, _ := NewTokens("secret")
	svc := NewService(store, tokens)

	if _, _, _, err := svc.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, _, err := svc.Login(context.Background(), "bob", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown login, got %v", err)
	}
	token, _, p, err := svc.Login(context.Background(), " alice ", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.ID != 9 || !p.IsMaster {
		t.Fatalf("unexpected principal %+v", p)
	}

	got, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != 9 || got.Role != "admin" {
		t.Fatalf("unexpected principal %+v", got)
	}

	active = false
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("deactivated admin must be rejected, got %v", err)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), Principal{ID: 3, Login: "carol"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Login != "carol" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatalf("expected no principal")
	}
}

func TestPrincipalResellerIsNilWhenUnscoped(t *testing.T) {
	if r := (Principal{ID: 1, Role: "system"}).Reseller(); r != nil {
		t.Fatalf("expected no reseller, got %d", *r)
	}
	if r := (Principal{ID: 2, Role: "reseller", ResellerID: 4}).Reseller(); r == nil || *r != 4 {
		t.Fatalf("unexpected reseller %v", r)
	}
}
