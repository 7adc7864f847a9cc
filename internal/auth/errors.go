package auth

import "errors"

// Caller-visible error taxonomy. Use cases translate store and crypto
// failures into these values; raw infrastructure errors never cross the
// package boundary except wrapped as ErrInternal.
var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrUnauthorized       = errors.New("auth: unauthorized")

	// Token validation failures are distinct so clients can decide between
	// silent refresh and a forced re-login.
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenRevoked = errors.New("auth: token revoked")

	// OAuth2-specific failures.
	ErrUnsupportedResponseType = errors.New("auth: unsupported response type")
	ErrUnsupportedGrantType    = errors.New("auth: unsupported grant type")
	ErrInvalidOrExpiredToken   = errors.New("auth: invalid or expired token")

	// Password policy violations surfaced from ChangePassword and Register.
	ErrPasswordTooShort    = errors.New("auth: password must be at least 8 characters long")
	ErrPasswordNoUppercase = errors.New("auth: password must contain at least one uppercase letter")
	ErrPasswordNoDigit     = errors.New("auth: password must contain at least one digit")

	// ErrInvalidCode covers TOTP and recovery code mismatches.
	ErrInvalidCode = errors.New("auth: invalid code")

	ErrInternal = errors.New("auth: internal error")
)
