package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{
		SigningSecret: []byte("test-signing-secret-0123456789ab"),
		Issuer:        "identra-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		TempTTL:       5 * time.Minute,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(TokenConfig{}, nil); err == nil {
		t.Fatal("expected error for missing signing secret")
	}
}

func TestSignAccessAndParseRoundTrip(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens(testTokenConfig(), fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	raw, exp, err := tokens.SignAccess("user-1", "tenant-a", []string{"admin"}, "openid profile")
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	if want := base.Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("expiry = %v, want %v", exp, want)
	}

	claims, err := tokens.ParseAccess(raw)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.TenantID != "tenant-a" {
		t.Fatalf("tenant = %q", claims.TenantID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("roles = %v", claims.Roles)
	}
	if claims.Scope != "openid profile" {
		t.Fatalf("scope = %q", claims.Scope)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("token_type = %q", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestSignAccessRequiresSubject(t *testing.T) {
	tokens, err := NewTokens(testTokenConfig(), nil)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	if _, _, err := tokens.SignAccess("  ", "", nil, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseExpiredToken(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer, err := NewTokens(testTokenConfig(), fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, _, err := signer.SignAccess("user-1", "", nil, "")
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}

	later, err := NewTokens(testTokenConfig(), fixedClock(base.Add(16*time.Minute)))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	if _, err := later.Parse(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	signer, err := NewTokens(testTokenConfig(), fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, _, err := signer.SignAccess("user-1", "", nil, "")
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}

	otherSecret := testTokenConfig()
	otherSecret.SigningSecret = []byte("another-secret-entirely-32-bytes")
	wrongKey, err := NewTokens(otherSecret, fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	if _, err := wrongKey.Parse(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong secret: expected ErrTokenInvalid, got %v", err)
	}

	otherIssuer := testTokenConfig()
	otherIssuer.Issuer = "someone-else"
	wrongIssuer, err := NewTokens(otherIssuer, fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	if _, err := wrongIssuer.Parse(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong issuer: expected ErrTokenInvalid, got %v", err)
	}

	if _, err := signer.Parse(""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("empty token: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := signer.Parse("not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage token: expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseAccessRejectsTempToken(t *testing.T) {
	tokens, err := NewTokens(testTokenConfig(), nil)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, _, err := tokens.SignTemp2FA("user-1", "tenant-a")
	if err != nil {
		t.Fatalf("SignTemp2FA: %v", err)
	}
	if _, err := tokens.ParseAccess(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for temp token, got %v", err)
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse temp token: %v", err)
	}
	if claims.TokenType != TokenTypeTemp2FA {
		t.Fatalf("token_type = %q", claims.TokenType)
	}
	if len(claims.Roles) != 0 || claims.Scope != "" {
		t.Fatal("temp token must not carry roles or scope")
	}
}

func TestNewRefreshTokenWireFormat(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens(testTokenConfig(), fixedClock(base))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, rec, err := tokens.NewRefreshToken("user-1", "client-1", "openid")
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}

	id, secret, err := SplitRefreshToken(raw)
	if err != nil {
		t.Fatalf("SplitRefreshToken: %v", err)
	}
	if id != rec.ID {
		t.Fatalf("id = %q, record id = %q", id, rec.ID)
	}
	if strings.Contains(secret, ".") {
		t.Fatalf("secret %q contains separator", secret)
	}
	if rec.TokenHash == secret {
		t.Fatal("record stores the raw secret")
	}
	if !VerifyRefreshSecret(rec.TokenHash, secret) {
		t.Fatal("stored hash does not verify against the secret")
	}
	if VerifyRefreshSecret(rec.TokenHash, "wrong-secret") {
		t.Fatal("wrong secret verified")
	}
	if want := base.Add(24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", rec.ExpiresAt, want)
	}
	if rec.UserID != "user-1" || rec.ClientID != "client-1" || rec.Scope != "openid" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSplitRefreshTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "noseparator", ".secret", "id.", "a.b.c"} {
		if _, _, err := SplitRefreshToken(raw); err == nil {
			t.Errorf("SplitRefreshToken(%q) accepted malformed input", raw)
		}
	}
}
