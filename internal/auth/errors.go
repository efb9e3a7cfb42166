package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrMissingSecret      = errors.New("auth: secret is not configured")
)
