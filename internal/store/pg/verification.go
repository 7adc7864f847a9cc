package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"identra.org/internal/auth"
)

type verificationStore Store

func (s *verificationStore) Create(ctx context.Context, tok *auth.VerificationToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into verification_tokens (id, user_id, token_type, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.Type, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *verificationStore) Consume(ctx context.Context, tokenHash, tokenType string, now time.Time) (*auth.VerificationToken, error) {
	row := s.db.QueryRowContext(ctx, `
		update verification_tokens
		set used_at = $3
		where token_hash = $1 and token_type = $2 and used_at is null and expires_at > $3
		returning id, user_id, token_type, token_hash, expires_at, created_at, used_at
	`, tokenHash, tokenType, now)

	var tok auth.VerificationToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.Type, &tok.TokenHash,
		&tok.ExpiresAt, &tok.CreatedAt, &tok.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

type recoveryCodeStore Store

func (s *recoveryCodeStore) Replace(ctx context.Context, userID string, codes []auth.RecoveryCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from recovery_codes where user_id = $1`, userID); err != nil {
		return err
	}
	for _, rc := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into recovery_codes (id, user_id, code_hash, created_at)
			values ($1, $2, $3, $4)
		`, rc.ID, rc.UserID, rc.CodeHash, rc.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *recoveryCodeStore) ListActive(ctx context.Context, userID string) ([]auth.RecoveryCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, code_hash, created_at, used_at
		from recovery_codes
		where user_id = $1 and used_at is null
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RecoveryCode
	for rows.Next() {
		var rc auth.RecoveryCode
		if err := rows.Scan(&rc.ID, &rc.UserID, &rc.CodeHash, &rc.CreatedAt, &rc.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// MarkUsed is conditional on used_at being null so a recovery code can be
// spent at most once even under concurrent attempts.
func (s *recoveryCodeStore) MarkUsed(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update recovery_codes set used_at = $2 where id = $1 and used_at is null
	`, id, now)
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
