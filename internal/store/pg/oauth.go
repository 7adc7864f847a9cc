package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"time"

	"identra.org/internal/auth"
)

type clientStore Store

func (s *clientStore) Create(ctx context.Context, c *auth.Client) error {
	redirects, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect_uris: %w", err)
	}
	grants, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("marshal grant_types: %w", err)
	}
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into clients (id, secret_hash, name, redirect_uris, grant_types, scopes, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.SecretHash, c.Name, redirects, grants, scopes, c.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *clientStore) FindByID(ctx context.Context, id string) (*auth.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, secret_hash, name, redirect_uris, grant_types, scopes, created_at
		from clients
		where id = $1
	`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *clientStore) List(ctx context.Context) ([]*auth.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, secret_hash, name, redirect_uris, grant_types, scopes, created_at
		from clients
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClient(row rowScanner) (*auth.Client, error) {
	var (
		c                         auth.Client
		redirects, grants, scopes []byte
	)
	if err := row.Scan(&c.ID, &c.SecretHash, &c.Name, &redirects, &grants, &scopes, &c.CreatedAt); err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{
		{redirects, &c.RedirectURIs},
		{grants, &c.GrantTypes},
		{scopes, &c.Scopes},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode client field: %w", err)
		}
	}
	return &c, nil
}

type authCodeStore Store

func (s *authCodeStore) Create(ctx context.Context, code *auth.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_codes (code_hash, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, code.CodeHash, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Consume marks the code used and returns it in one conditional update, so
// concurrent redemptions of the same code cannot both succeed.
func (s *authCodeStore) Consume(ctx context.Context, codeHash string, now time.Time) (*auth.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		update auth_codes
		set used_at = $2
		where code_hash = $1 and used_at is null and expires_at > $2
		returning code_hash, client_id, user_id, redirect_uri, scope,
			code_challenge, code_challenge_method, expires_at, created_at, used_at
	`, codeHash, now)

	var code auth.AuthorizationCode
	err := row.Scan(&code.CodeHash, &code.ClientID, &code.UserID, &code.RedirectURI,
		&code.Scope, &code.CodeChallenge, &code.CodeChallengeMethod,
		&code.ExpiresAt, &code.CreatedAt, &code.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

type refreshTokenStore Store

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, client_id, scope, token_hash,
			expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tok.ID, tok.UserID, tok.ClientID, tok.Scope, tok.TokenHash,
		tok.ExpiresAt, tok.CreatedAt, tok.Revoked)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, client_id, scope, token_hash, expires_at, created_at, revoked
		from refresh_tokens
		where id = $1
	`, id)
	var tok auth.RefreshToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.ClientID, &tok.Scope,
		&tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where id = $1
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *refreshTokenStore) Consume(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where id = $1 and not revoked
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrTokenRevoked
	}
	return nil
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where user_id = $1 and not revoked
	`, userID)
	return err
}

func (s *refreshTokenStore) ListByUser(ctx context.Context, userID string) ([]*auth.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, client_id, scope, token_hash, expires_at, created_at, revoked
		from refresh_tokens
		where user_id = $1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.RefreshToken
	for rows.Next() {
		var tok auth.RefreshToken
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.ClientID, &tok.Scope,
			&tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
			return nil, err
		}
		out = append(out, &tok)
	}
	return out, rows.Err()
}
