package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"identra.org/internal/ids"
)

// CreateClientParams carries the client registration input.
type CreateClientParams struct {
	Name         string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
}

// CreatedClient pairs the stored record with the plaintext secret, which is
// shown exactly once at creation time.
type CreatedClient struct {
	Client *Client `json:"client"`
	Secret string  `json:"secret"`
}

// CreateClient registers an OAuth2 client and mints its secret.
func (s *Service) CreateClient(ctx context.Context, p CreateClientParams) (CreatedClient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return CreatedClient{}, fmt.Errorf("%w: client name is required", ErrInvalidInput)
	}
	if len(p.GrantTypes) == 0 {
		p.GrantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	for _, g := range p.GrantTypes {
		switch g {
		case GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials:
		default:
			return CreatedClient{}, fmt.Errorf("%w: unknown grant type %q", ErrInvalidInput, g)
		}
	}
	secret, err := RandomURLSafeString(32)
	if err != nil {
		return CreatedClient{}, err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return CreatedClient{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	client := &Client{
		ID:           ids.New(),
		SecretHash:   hash,
		Name:         p.Name,
		RedirectURIs: p.RedirectURIs,
		GrantTypes:   p.GrantTypes,
		Scopes:       p.Scopes,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Clients().Create(ctx, client); err != nil {
		return CreatedClient{}, err
	}
	return CreatedClient{Client: client, Secret: secret}, nil
}

// ListClients returns all registered clients.
func (s *Service) ListClients(ctx context.Context) ([]*Client, error) {
	return s.store.Clients().List(ctx)
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.Users().RoleNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

// ListUsers returns the users of a tenant ("" means all tenants).
func (s *Service) ListUsers(ctx context.Context, tenantID string) ([]*User, error) {
	return s.store.Users().List(ctx, tenantID)
}

// SetUserStatus activates or disables an account. Disabling also revokes
// every live session so the account cannot refresh its way back in.
func (s *Service) SetUserStatus(ctx context.Context, userID, status string) (*User, error) {
	if status != UserStatusActive && status != UserStatusDisabled {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Status = status
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	if status == UserStatusDisabled {
		if err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ProfileUpdate carries optional profile changes; nil fields are untouched.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// UpdateProfile changes username and/or email, enforcing uniqueness. A
// changed email clears email_verified.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	users := s.store.Users()
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name == "" {
			return nil, fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
		}
		if name != user.Username {
			if other, err := users.FindByUsername(ctx, name); err == nil && other.ID != userID {
				return nil, fmt.Errorf("%w: username %q", ErrAlreadyExists, name)
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			user.Username = name
		}
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		if email != user.Email {
			if other, err := users.FindByEmail(ctx, email); err == nil && other.ID != userID {
				return nil, fmt.Errorf("%w: email %q", ErrAlreadyExists, email)
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			user.Email = email
			user.EmailVerified = false
		}
	}
	user.UpdatedAt = s.now().UTC()
	if err := users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateRole adds a role to the catalog.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles().FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role %q", ErrAlreadyExists, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles().List(ctx)
}

// DeleteRole removes a role from the catalog.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	return s.store.Roles().Delete(ctx, roleID)
}

// AssignRole attaches a role to a user. Assigning twice is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Roles().FindByID(ctx, roleID); err != nil {
		return err
	}
	return s.store.Users().AttachRole(ctx, userID, roleID)
}

// UnassignRole detaches a role from a user.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID string) error {
	return s.store.Users().DetachRole(ctx, userID, roleID)
}

// CreatePolicyParams carries the policy creation input.
type CreatePolicyParams struct {
	TenantID    string
	Name        string
	Description string
	Statements  []Statement
}

// CreatePolicy validates and stores a policy. Statement effects must
// already be parsed; handlers use ParseEffect, which defaults anything
// unrecognized to deny.
func (s *Service) CreatePolicy(ctx context.Context, p CreatePolicyParams) (*Policy, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: policy name is required", ErrInvalidInput)
	}
	if len(p.Statements) == 0 {
		return nil, fmt.Errorf("%w: at least one statement is required", ErrInvalidInput)
	}
	for i, st := range p.Statements {
		if len(st.Actions) == 0 || len(st.Resources) == 0 {
			return nil, fmt.Errorf("%w: statement %d needs actions and resources", ErrInvalidInput, i)
		}
	}
	now := s.now().UTC()
	policy := &Policy{
		ID:          ids.New(),
		TenantID:    p.TenantID,
		Name:        p.Name,
		Description: p.Description,
		Version:     "2025-01-01",
		Statements:  p.Statements,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Policies().Create(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// UpdatePolicyParams carries optional policy changes; nil fields are
// untouched. Statements, when present, replace the stored set wholesale.
type UpdatePolicyParams struct {
	Name        *string
	Description *string
	Statements  []Statement
}

// UpdatePolicy applies an administrator edit to a stored policy.
func (s *Service) UpdatePolicy(ctx context.Context, policyID string, p UpdatePolicyParams) (*Policy, error) {
	policy, err := s.store.Policies().FindByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: policy name is required", ErrInvalidInput)
		}
		policy.Name = name
	}
	if p.Description != nil {
		policy.Description = *p.Description
	}
	if p.Statements != nil {
		for i, st := range p.Statements {
			if len(st.Actions) == 0 || len(st.Resources) == 0 {
				return nil, fmt.Errorf("%w: statement %d needs actions and resources", ErrInvalidInput, i)
			}
		}
		policy.Statements = p.Statements
	}
	policy.UpdatedAt = s.now().UTC()
	if err := s.store.Policies().Update(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// GetPolicy fetches a policy by id.
func (s *Service) GetPolicy(ctx context.Context, policyID string) (*Policy, error) {
	return s.store.Policies().FindByID(ctx, policyID)
}

// ListPolicies returns the policies of a tenant ("" means all tenants).
func (s *Service) ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	return s.store.Policies().List(ctx, tenantID)
}

// DeletePolicy removes a policy; attachments go with it.
func (s *Service) DeletePolicy(ctx context.Context, policyID string) error {
	return s.store.Policies().Delete(ctx, policyID)
}

// AttachPolicy binds a policy to a user.
func (s *Service) AttachPolicy(ctx context.Context, userID, policyID string) error {
	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Policies().FindByID(ctx, policyID); err != nil {
		return err
	}
	return s.store.Users().AttachPolicy(ctx, userID, policyID)
}

// DetachPolicy unbinds a policy from a user.
func (s *Service) DetachPolicy(ctx context.Context, userID, policyID string) error {
	return s.store.Users().DetachPolicy(ctx, userID, policyID)
}

// AttachPolicyToRole binds a policy to a role; every user holding the
// role picks up the policy's statements.
func (s *Service) AttachPolicyToRole(ctx context.Context, roleID, policyID string) error {
	if _, err := s.store.Roles().FindByID(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.store.Policies().FindByID(ctx, policyID); err != nil {
		return err
	}
	return s.store.Roles().AttachPolicy(ctx, roleID, policyID)
}

// DetachPolicyFromRole unbinds a policy from a role.
func (s *Service) DetachPolicyFromRole(ctx context.Context, roleID, policyID string) error {
	return s.store.Roles().DetachPolicy(ctx, roleID, policyID)
}

// CheckPermission evaluates the user's effective policies, attached
// directly or through a role, against an action/resource pair. Deny
// statements win regardless of order; no matching statement means deny.
func (s *Service) CheckPermission(ctx context.Context, userID, action, resource string) (bool, error) {
	if action == "" || resource == "" {
		return false, fmt.Errorf("%w: action and resource are required", ErrInvalidInput)
	}
	policies, err := s.store.Users().PoliciesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return IsAllowed(Statements(policies), action, resource), nil
}

// Principal resolves the full authorization context for a user: the record,
// role names, and flattened policy statements.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	roles, err := s.store.Users().RoleNames(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	policies, err := s.store.Users().PoliciesForUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		User:       user,
		Roles:      roles,
		Statements: Statements(policies),
	}, nil
}
