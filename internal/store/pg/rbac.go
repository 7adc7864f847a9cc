package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"identra.org/internal/auth"
)

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, role.Description, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *roleStore) FindByID(ctx context.Context, id string) (*auth.Role, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.findOne(ctx, `where name = $1`, name)
}

func (s *roleStore) findOne(ctx context.Context, where string, arg any) (*auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at from roles `+where, arg).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &role)
	}
	return out, rows.Err()
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
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

func (s *roleStore) AttachPolicy(ctx context.Context, roleID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_policies (role_id, policy_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, policyID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *roleStore) DetachPolicy(ctx context.Context, roleID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from role_policies where role_id = $1 and policy_id = $2
	`, roleID, policyID)
	return err
}

type policyStore Store

func (s *policyStore) Create(ctx context.Context, p *auth.Policy) error {
	statements, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("marshal statements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into policies (id, tenant_id, name, description, version, statements, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.TenantID, p.Name, p.Description, p.Version, statements, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *policyStore) FindByID(ctx context.Context, id string) (*auth.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name, description, version, statements, created_at, updated_at
		from policies
		where id = $1
	`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *policyStore) List(ctx context.Context, tenantID string) ([]*auth.Policy, error) {
	query := `
		select id, tenant_id, name, description, version, statements, created_at, updated_at
		from policies
		order by name
	`
	args := []any{}
	if tenantID != "" {
		query = `
			select id, tenant_id, name, description, version, statements, created_at, updated_at
			from policies
			where tenant_id = $1
			order by name
		`
		args = append(args, tenantID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *policyStore) Update(ctx context.Context, p *auth.Policy) error {
	statements, err := json.Marshal(p.Statements)
	if err != nil {
		return fmt.Errorf("marshal statements: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update policies
		set name = $2, description = $3, version = $4, statements = $5, updated_at = $6
		where id = $1
	`, p.ID, p.Name, p.Description, p.Version, statements, p.UpdatedAt)
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

func (s *policyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from policies where id = $1`, id)
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

func scanPolicy(row rowScanner) (*auth.Policy, error) {
	var (
		p   auth.Policy
		raw []byte
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description,
		&p.Version, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Statements); err != nil {
			return nil, fmt.Errorf("decode statements: %w", err)
		}
	}
	return &p, nil
}
