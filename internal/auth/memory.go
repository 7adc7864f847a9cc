package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and the dev server. All
// sub-stores share a single mutex, which makes the conditional single-use
// updates (Consume, MarkUsed) atomic without further coordination.
type MemoryStore struct {
	mu sync.Mutex

	users         map[string]*User
	clients       map[string]*Client
	codes         map[string]*AuthorizationCode
	refresh       map[string]*RefreshToken
	verifications map[string]*VerificationToken
	recovery      map[string]*RecoveryCode
	roles         map[string]*Role
	policies      map[string]*Policy

	userRoles    map[string]map[string]struct{}
	userPolicies map[string]map[string]struct{}
	rolePolicies map[string]map[string]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		clients:       make(map[string]*Client),
		codes:         make(map[string]*AuthorizationCode),
		refresh:       make(map[string]*RefreshToken),
		verifications: make(map[string]*VerificationToken),
		recovery:      make(map[string]*RecoveryCode),
		roles:         make(map[string]*Role),
		policies:      make(map[string]*Policy),
		userRoles:     make(map[string]map[string]struct{}),
		userPolicies:  make(map[string]map[string]struct{}),
		rolePolicies:  make(map[string]map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Users() UserStore                  { return (*memoryUsers)(m) }
func (m *MemoryStore) Clients() ClientStore              { return (*memoryClients)(m) }
func (m *MemoryStore) AuthCodes() AuthCodeStore          { return (*memoryCodes)(m) }
func (m *MemoryStore) RefreshTokens() RefreshTokenStore  { return (*memoryRefresh)(m) }
func (m *MemoryStore) Verifications() VerificationTokenStore {
	return (*memoryVerifications)(m)
}
func (m *MemoryStore) RecoveryCodes() RecoveryCodeStore { return (*memoryRecovery)(m) }
func (m *MemoryStore) Roles() RoleStore                 { return (*memoryRoles)(m) }
func (m *MemoryStore) Policies() PolicyStore            { return (*memoryPolicies)(m) }

type memoryUsers MemoryStore

func (m *memoryUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, u.ID)
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return fmt.Errorf("%w: username %q", ErrAlreadyExists, u.Username)
		}
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %q", ErrAlreadyExists, u.Email)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memoryUsers) List(_ context.Context, tenantID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		if tenantID != "" && u.TenantID != tenantID {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryUsers) AttachRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]struct{})
	}
	m.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (m *memoryUsers) DetachRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRoles[userID], roleID)
	return nil
}

func (m *memoryUsers) RoleNames(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for roleID := range m.userRoles[userID] {
		if role, ok := m.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryUsers) AttachPolicy(_ context.Context, userID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userPolicies[userID] == nil {
		m.userPolicies[userID] = make(map[string]struct{})
	}
	m.userPolicies[userID][policyID] = struct{}{}
	return nil
}

func (m *memoryUsers) DetachPolicy(_ context.Context, userID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userPolicies[userID], policyID)
	return nil
}

func (m *memoryUsers) PoliciesForUser(_ context.Context, userID string) ([]Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	effective := make(map[string]struct{})
	for policyID := range m.userPolicies[userID] {
		effective[policyID] = struct{}{}
	}
	for roleID := range m.userRoles[userID] {
		for policyID := range m.rolePolicies[roleID] {
			effective[policyID] = struct{}{}
		}
	}
	var out []Policy
	for policyID := range effective {
		if p, ok := m.policies[policyID]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryClients MemoryStore

func (m *memoryClients) Create(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return fmt.Errorf("%w: client %s", ErrAlreadyExists, c.ID)
	}
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *memoryClients) FindByID(_ context.Context, id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryClients) List(_ context.Context) ([]*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryCodes MemoryStore

func (m *memoryCodes) Create(_ context.Context, code *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code.CodeHash]; ok {
		return fmt.Errorf("%w: authorization code", ErrAlreadyExists)
	}
	cp := *code
	m.codes[code.CodeHash] = &cp
	return nil
}

func (m *memoryCodes) Consume(_ context.Context, codeHash string, now time.Time) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[codeHash]
	if !ok || code.UsedAt != nil || now.After(code.ExpiresAt) {
		return nil, ErrInvalidOrExpiredToken
	}
	used := now
	code.UsedAt = &used
	cp := *code
	return &cp, nil
}

type memoryRefresh MemoryStore

func (m *memoryRefresh) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[tok.ID]; ok {
		return fmt.Errorf("%w: refresh token %s", ErrAlreadyExists, tok.ID)
	}
	cp := *tok
	m.refresh[tok.ID] = &cp
	return nil
}

func (m *memoryRefresh) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memoryRefresh) MarkRevoked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m *memoryRefresh) Consume(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok || tok.Revoked {
		return ErrTokenRevoked
	}
	tok.Revoked = true
	return nil
}

func (m *memoryRefresh) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.refresh {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *memoryRefresh) ListByUser(_ context.Context, userID string) ([]*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RefreshToken
	for _, tok := range m.refresh {
		if tok.UserID == userID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryVerifications MemoryStore

func (m *memoryVerifications) Create(_ context.Context, tok *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.verifications[tok.TokenHash]; ok {
		return fmt.Errorf("%w: verification token", ErrAlreadyExists)
	}
	cp := *tok
	m.verifications[tok.TokenHash] = &cp
	return nil
}

func (m *memoryVerifications) Consume(_ context.Context, tokenHash, tokenType string, now time.Time) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.verifications[tokenHash]
	if !ok || tok.Type != tokenType || tok.UsedAt != nil || now.After(tok.ExpiresAt) {
		return nil, ErrInvalidOrExpiredToken
	}
	used := now
	tok.UsedAt = &used
	cp := *tok
	return &cp, nil
}

type memoryRecovery MemoryStore

func (m *memoryRecovery) Replace(_ context.Context, userID string, codes []RecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rc := range m.recovery {
		if rc.UserID == userID {
			delete(m.recovery, id)
		}
	}
	for _, rc := range codes {
		cp := rc
		m.recovery[rc.ID] = &cp
	}
	return nil
}

func (m *memoryRecovery) ListActive(_ context.Context, userID string) ([]RecoveryCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecoveryCode
	for _, rc := range m.recovery {
		if rc.UserID == userID && rc.UsedAt == nil {
			out = append(out, *rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRecovery) MarkUsed(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.recovery[id]
	if !ok || rc.UsedAt != nil {
		return ErrNotFound
	}
	used := now
	rc.UsedAt = &used
	return nil
}

type memoryRoles MemoryStore

func (m *memoryRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return fmt.Errorf("%w: role %q", ErrAlreadyExists, role.Name)
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memoryRoles) FindByID(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *memoryRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePolicies, id)
	for _, attached := range m.userRoles {
		delete(attached, id)
	}
	return nil
}

func (m *memoryRoles) AttachPolicy(_ context.Context, roleID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rolePolicies[roleID] == nil {
		m.rolePolicies[roleID] = make(map[string]struct{})
	}
	m.rolePolicies[roleID][policyID] = struct{}{}
	return nil
}

func (m *memoryRoles) DetachPolicy(_ context.Context, roleID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rolePolicies[roleID], policyID)
	return nil
}

type memoryPolicies MemoryStore

func (m *memoryPolicies) Create(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.TenantID == p.TenantID && existing.Name == p.Name {
			return fmt.Errorf("%w: policy %q", ErrAlreadyExists, p.Name)
		}
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *memoryPolicies) FindByID(_ context.Context, id string) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryPolicies) List(_ context.Context, tenantID string) ([]*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Policy, 0, len(m.policies))
	for _, p := range m.policies {
		if tenantID != "" && p.TenantID != tenantID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryPolicies) Update(_ context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *memoryPolicies) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return ErrNotFound
	}
	delete(m.policies, id)
	for _, attached := range m.userPolicies {
		delete(attached, id)
	}
	for _, attached := range m.rolePolicies {
		delete(attached, id)
	}
	return nil
}
