package auth

import (
	"context"
	"time"
)

// Store is the credential store consumed by the auth service. Two adapters
// exist: Postgres for production and an in-memory implementation for tests.
// The adapter is chosen at construction time.
type Store interface {
	Users() UserStore
	Clients() ClientStore
	AuthCodes() AuthCodeStore
	RefreshTokens() RefreshTokenStore
	Verifications() VerificationTokenStore
	RecoveryCodes() RecoveryCodeStore
	Roles() RoleStore
	Policies() PolicyStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Update persists mutable fields: profile, status, password hash,
	// 2FA state, email_verified, last_login_at.
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, tenantID string) ([]*User, error)

	AttachRole(ctx context.Context, userID, roleID string) error
	DetachRole(ctx context.Context, userID, roleID string) error
	RoleNames(ctx context.Context, userID string) ([]string, error)

	AttachPolicy(ctx context.Context, userID, policyID string) error
	DetachPolicy(ctx context.Context, userID, policyID string) error
	// PoliciesForUser returns the effective policy set: policies attached
	// to the user directly plus those attached to any of the user's roles.
	PoliciesForUser(ctx context.Context, userID string) ([]Policy, error)
}

// ClientStore manages OAuth2 client registrations.
type ClientStore interface {
	Create(ctx context.Context, c *Client) error
	FindByID(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
}

// AuthCodeStore persists authorization codes. Consume is the single-use
// gate: it atomically marks the code used and returns the record only if it
// was unused and unexpired, so of two concurrent redemptions exactly one
// succeeds.
type AuthCodeStore interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	Consume(ctx context.Context, codeHash string, now time.Time) (*AuthorizationCode, error)
}

// RefreshTokenStore manages the refresh token / session lifecycle.
// MarkRevoked is idempotent; revoking a revoked token is a no-op. Consume
// is the rotation primitive: it revokes the token only if it is still
// live, so of two concurrent calls exactly one succeeds and the other
// gets ErrTokenRevoked.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	Consume(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	ListByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
}

// VerificationTokenStore persists email verification and password reset
// tokens. Consume has the same atomic single-use contract as AuthCodeStore.
type VerificationTokenStore interface {
	Create(ctx context.Context, tok *VerificationToken) error
	Consume(ctx context.Context, tokenHash, tokenType string, now time.Time) (*VerificationToken, error)
}

// RecoveryCodeStore manages one-time 2FA fallback codes. MarkUsed succeeds
// at most once per code.
type RecoveryCodeStore interface {
	Replace(ctx context.Context, userID string, codes []RecoveryCode) error
	ListActive(ctx context.Context, userID string) ([]RecoveryCode, error)
	MarkUsed(ctx context.Context, id string, now time.Time) error
}

// RoleStore manages the role catalog and the role-to-policy bindings
// that users inherit through role membership.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, id string) error

	AttachPolicy(ctx context.Context, roleID, policyID string) error
	DetachPolicy(ctx context.Context, roleID, policyID string) error
}

// PolicyStore manages tenant-scoped policies. Create returns
// ErrAlreadyExists when the (tenant_id, name) pair is taken.
type PolicyStore interface {
	Create(ctx context.Context, p *Policy) error
	FindByID(ctx context.Context, id string) (*Policy, error)
	List(ctx context.Context, tenantID string) ([]*Policy, error)
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id string) error
}
