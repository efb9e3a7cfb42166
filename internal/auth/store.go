package auth

import "context"

// CredentialStore looks up admin login records. Missing records yield ErrNotFound.
type CredentialStore interface {
	CredentialsByLogin(ctx context.Context, login string) (Credentials, error)
	CredentialsByID(ctx context.Context, id int64) (Credentials, error)
}
