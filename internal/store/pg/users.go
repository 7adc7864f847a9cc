package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"identra.org/internal/auth"
)

type userStore Store

const userColumns = `id, tenant_id, username, email, password_hash, status,
	email_verified, totp_secret, totp_enabled, last_login_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, tenant_id, username, email, password_hash, status,
			email_verified, totp_secret, totp_enabled, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.TenantID, u.Username, u.Email, u.PasswordHash, u.Status,
		u.EmailVerified, u.TOTPSecret, u.TOTPEnabled, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *userStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, `where username = $1`, username)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `where email = $1`, email)
}

func (s *userStore) findOne(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set tenant_id = $2, username = $3, email = $4, password_hash = $5,
			status = $6, email_verified = $7, totp_secret = $8, totp_enabled = $9,
			last_login_at = $10, updated_at = $11
		where id = $1
	`, u.ID, u.TenantID, u.Username, u.Email, u.PasswordHash,
		u.Status, u.EmailVerified, u.TOTPSecret, u.TOTPEnabled,
		u.LastLoginAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
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

func (s *userStore) List(ctx context.Context, tenantID string) ([]*auth.User, error) {
	query := `select ` + userColumns + ` from users order by username`
	args := []any{}
	if tenantID != "" {
		query = `select ` + userColumns + ` from users where tenant_id = $1 order by username`
		args = append(args, tenantID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *userStore) AttachRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *userStore) DetachRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	return err
}

func (s *userStore) RoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *userStore) AttachPolicy(ctx context.Context, userID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_policies (user_id, policy_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, policyID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *userStore) DetachPolicy(ctx context.Context, userID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_policies where user_id = $1 and policy_id = $2
	`, userID, policyID)
	return err
}

func (s *userStore) PoliciesForUser(ctx context.Context, userID string) ([]auth.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.tenant_id, p.name, p.description, p.version, p.statements,
			p.created_at, p.updated_at
		from policies p
		where p.id in (
			select policy_id from user_policies where user_id = $1
			union
			select rp.policy_id
			from role_policies rp
			join user_roles ur on ur.role_id = rp.role_id
			where ur.user_id = $1
		)
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Policy
	for rows.Next() {
		var (
			p   auth.Policy
			raw []byte
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description,
			&p.Version, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Statements); err != nil {
				return nil, fmt.Errorf("decode statements: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Status, &u.EmailVerified, &u.TOTPSecret, &u.TOTPEnabled,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
