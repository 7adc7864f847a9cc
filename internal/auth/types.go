package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is the identity record. PasswordHash and TOTPSecret are opaque and
// never serialized to callers or logs.
type User struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id,omitempty"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	TOTPSecret    string     `json:"-"`
	TOTPEnabled   bool       `json:"totp_enabled"`
	Roles         []string   `json:"roles,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Active reports whether the account may authenticate.
func (u *User) Active() bool { return u.Status == UserStatusActive }

// Client is a registered OAuth2 client. SecretHash is argon2id.
type Client struct {
	ID           string    `json:"id"`
	SecretHash   string    `json:"-"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	GrantTypes   []string  `json:"grant_types"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// AllowsRedirect requires an exact match against a registered URI.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AllowsScope requires the requested scope set to be a subset of the
// client's allowed scopes. The empty scope is always allowed.
func (c *Client) AllowsScope(requested []string) bool {
	allowed := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

// AuthorizationCode is a single-use artifact of the authorization-code flow.
// Only the SHA-256 hash of the code is stored.
type AuthorizationCode struct {
	CodeHash            string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	CreatedAt           time.Time
	UsedAt              *time.Time
}

// RefreshToken is an opaque server-side session record. The wire token is
// "<id>.<secret>"; only the SHA-256 hash of the secret is stored, so a
// database leak does not leak usable tokens.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// Verification token kinds.
const (
	VerificationEmail         = "email_verification"
	VerificationPasswordReset = "password_reset"
)

// VerificationToken mediates email verification and password reset. It is
// single-use: UsedAt is set exactly once by an atomic conditional update.
type VerificationToken struct {
	ID        string
	UserID    string
	Type      string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// RecoveryCode is a one-time 2FA fallback. CodeHash is argon2id.
type RecoveryCode struct {
	ID        string
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}

// Role groups users for coarse access control.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Policy is an ordered set of allow/deny statements scoped to a tenant.
// Name uniqueness is per tenant.
type Policy struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id,omitempty"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version"`
	Statements  []Statement `json:"statements"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
