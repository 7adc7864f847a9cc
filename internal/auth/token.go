package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"identra.org/internal/ids"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeTemp2FA = "temp_2fa"
)

const defaultTempTokenTTL = 5 * time.Minute

// Claims is the access token claims schema.
type Claims struct {
	TenantID  string   `json:"tid,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenConfig carries the signing material and expiry policy. It is built
// from the process configuration at startup and injected; there is no
// package-level secret.
type TokenConfig struct {
	SigningSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TempTTL       time.Duration
}

// Tokens issues and validates signed access tokens and opaque refresh
// tokens. Access tokens are self-contained JWTs so request-path validation
// needs no store lookup; refresh tokens are persisted server-side, which
// gives revocation a concrete anchor.
type Tokens struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokens validates the configuration and constructs the token service.
// A missing signing secret is a startup failure, not a degraded mode.
func NewTokens(cfg TokenConfig, now func() time.Time) (*Tokens, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errors.New("auth: signing secret is not configured")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "identra"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	if cfg.TempTTL <= 0 {
		cfg.TempTTL = defaultTempTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{cfg: cfg, now: now}, nil
}

// AccessTTL exposes the configured access token lifetime.
func (t *Tokens) AccessTTL() time.Duration { return t.cfg.AccessTTL }

// SignAccess signs an access token for the user.
func (t *Tokens) SignAccess(subject, tenantID string, roles []string, scope string) (string, time.Time, error) {
	return t.sign(subject, tenantID, roles, scope, TokenTypeAccess, t.cfg.AccessTTL)
}

// SignTemp2FA signs the short-lived token returned by a password login when
// a second factor is still outstanding. It carries no roles or scope.
func (t *Tokens) SignTemp2FA(subject, tenantID string) (string, time.Time, error) {
	return t.sign(subject, tenantID, nil, "", TokenTypeTemp2FA, t.cfg.TempTTL)
}

func (t *Tokens) sign(subject, tenantID string, roles []string, scope, tokenType string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		TenantID:  tenantID,
		Roles:     roles,
		Scope:     scope,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.SigningSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and registered claims of an access or
// temp-2FA token. Expiry and structural failures map to distinct errors.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return t.cfg.SigningSecret, nil
	}, jwt.WithIssuer(t.cfg.Issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccess parses a token and additionally requires token_type=access,
// so a temp-2FA token can never be used as a bearer credential.
func (t *Tokens) ParseAccess(raw string) (*Claims, error) {
	claims, err := t.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// NewRefreshToken mints an opaque refresh token. The wire form is
// "<id>.<secret>"; the record stores only the SHA-256 of the secret.
func (t *Tokens) NewRefreshToken(userID, clientID, scope string) (string, *RefreshToken, error) {
	secret, err := RandomURLSafeString(32)
	if err != nil {
		return "", nil, err
	}
	now := t.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		TokenHash: hashToken(secret),
		ExpiresAt: now.Add(t.cfg.RefreshTTL),
		CreatedAt: now,
	}
	return rec.ID + "." + secret, rec, nil
}

// SplitRefreshToken separates the wire form into id and secret.
func SplitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

// VerifyRefreshSecret compares the stored hash with the presented secret in
// constant time.
func VerifyRefreshSecret(storedHash, secret string) bool {
	actual := hashToken(secret)
	if len(actual) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(storedHash)) == 1
}
