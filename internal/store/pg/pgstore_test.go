package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"identra.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func checkExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Users().Create(context.Background(), &auth.User{
		ID:       "u1",
		Username: "alice",
		Email:    "alice@example.com",
	})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestUserFindByUsername(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "tenant_id", "username", "email", "password_hash", "status",
		"email_verified", "totp_secret", "totp_enabled", "last_login_at", "created_at", "updated_at"}

	mock.ExpectQuery("select (.+) from users where username").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "t1", "alice", "alice@example.com", "hash", "active",
				true, "", false, nil, now, now))

	user, err := store.Users().FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if user.ID != "u1" || user.TenantID != "t1" || !user.EmailVerified {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("last_login_at = %v", user.LastLoginAt)
	}
	checkExpectations(t, mock)
}

func TestUserFindByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select (.+) from users where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Users().FindByID(context.Background(), "missing")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestUserUpdateReportsMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users().Update(context.Background(), &auth.User{ID: "missing"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestUserAttachRoleMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into user_roles").
		WithArgs("u1", "missing-role").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := store.Users().AttachRole(context.Background(), "u1", "missing-role")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestClientFindByIDDecodesJSONFields(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "secret_hash", "name", "redirect_uris", "grant_types", "scopes", "created_at"}

	mock.ExpectQuery("select (.+) from clients").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "hash", "web-app",
				[]byte(`["https://app.example.com/callback"]`),
				[]byte(`["authorization_code","refresh_token"]`),
				[]byte(`["openid"]`), now))

	client, err := store.Clients().FindByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !client.AllowsRedirect("https://app.example.com/callback") {
		t.Fatalf("redirect_uris = %v", client.RedirectURIs)
	}
	if !client.AllowsGrant("refresh_token") || client.AllowsGrant("client_credentials") {
		t.Fatalf("grant_types = %v", client.GrantTypes)
	}
	checkExpectations(t, mock)
}

func TestAuthCodeConsume(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"code_hash", "client_id", "user_id", "redirect_uri", "scope",
		"code_challenge", "code_challenge_method", "expires_at", "created_at", "used_at"}

	mock.ExpectQuery("update auth_codes").
		WithArgs("hash1", now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("hash1", "c1", "u1", "https://app.example.com/callback", "openid",
				"", "", now.Add(10*time.Minute), now.Add(-time.Minute), now))

	code, err := store.AuthCodes().Consume(context.Background(), "hash1", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if code.ClientID != "c1" || code.UserID != "u1" {
		t.Fatalf("unexpected code: %+v", code)
	}
	if code.UsedAt == nil {
		t.Fatal("used_at not returned")
	}
	checkExpectations(t, mock)
}

func TestAuthCodeConsumeSpentOrExpired(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// The conditional update matches nothing for a spent or expired code.
	mock.ExpectQuery("update auth_codes").
		WithArgs("hash1", now).
		WillReturnRows(sqlmock.NewRows([]string{"code_hash"}))

	_, err := store.AuthCodes().Consume(context.Background(), "hash1", now)
	if !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRefreshTokenMarkRevoked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update refresh_tokens set revoked").
		WithArgs("rt1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RefreshTokens().MarkRevoked(context.Background(), "rt1"); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}

	mock.ExpectExec("update refresh_tokens set revoked").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RefreshTokens().MarkRevoked(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRefreshTokenConsumeIsConditional(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update refresh_tokens set revoked = true where id = (.+) and not revoked").
		WithArgs("rt1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RefreshTokens().Consume(context.Background(), "rt1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	// The race loser flips zero rows and must not get a token pair.
	mock.ExpectExec("update refresh_tokens set revoked = true where id = (.+) and not revoked").
		WithArgs("rt1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RefreshTokens().Consume(context.Background(), "rt1"); !errors.Is(err, auth.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRoleAttachPolicyMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into role_policies").
		WithArgs("r1", "missing-policy").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := store.Roles().AttachPolicy(context.Background(), "r1", "missing-policy")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestVerificationConsumeRejectsSpentToken(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("update verification_tokens").
		WithArgs("hash1", "password_reset", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Verifications().Consume(context.Background(), "hash1", "password_reset", now)
	if !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRecoveryCodeMarkUsedIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("update recovery_codes set used_at").
		WithArgs("rc1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RecoveryCodes().MarkUsed(context.Background(), "rc1", now)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRecoveryCodeReplaceRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("delete from recovery_codes").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into recovery_codes").
		WithArgs("rc1", "u1", "hash1", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into recovery_codes").
		WithArgs("rc2", "u1", "hash2", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.RecoveryCodes().Replace(context.Background(), "u1", []auth.RecoveryCode{
		{ID: "rc1", UserID: "u1", CodeHash: "hash1", CreatedAt: now},
		{ID: "rc2", UserID: "u1", CodeHash: "hash2", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	checkExpectations(t, mock)
}

func TestPolicyRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "tenant_id", "name", "description", "version", "statements",
		"created_at", "updated_at"}

	mock.ExpectQuery("select (.+) from policies").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p1", "", "no-user-manage", "", "2025-01-01",
				[]byte(`[{"effect":"Deny","actions":["identra:users:manage"],"resources":["*"]}]`),
				now, now))

	policy, err := store.Policies().FindByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(policy.Statements) != 1 {
		t.Fatalf("statements = %+v", policy.Statements)
	}
	st := policy.Statements[0]
	if st.Effect != auth.EffectDeny || len(st.Actions) != 1 || st.Actions[0] != "identra:users:manage" {
		t.Fatalf("statement = %+v", st)
	}
	checkExpectations(t, mock)
}
