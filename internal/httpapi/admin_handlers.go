package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"identra.org/internal/audit"
	"identra.org/internal/auth"
	"identra.org/internal/obs"
	"identra.org/internal/stream"
)

// Admin action/resource vocabulary evaluated against attached policies.
const (
	actionManageUsers    = "identra:users:manage"
	actionManageClients  = "identra:clients:manage"
	actionManageRoles    = "identra:roles:manage"
	actionManagePolicies = "identra:policies:manage"
	actionReadEvents     = "identra:events:read"
	resourceAll          = "*"
)

type createClientRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type statementRequest struct {
	SID       string   `json:"sid"`
	Effect    string   `json:"effect"`
	Actions   []string `json:"actions"`
	Resources []string `json:"resources"`
}

type createPolicyRequest struct {
	TenantID    string             `json:"tenant_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Statements  []statementRequest `json:"statements"`
}

type updatePolicyRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Statements  []statementRequest `json:"statements"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

type attachRequest struct {
	RoleID   string `json:"role_id,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
}

type permissionCheckRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		sessions, err := a.svc.Sessions(r.Context(), principal.User.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
	case http.MethodDelete:
		if err := a.svc.RevokeAll(r.Context(), principal.User.ID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.ObserveRevocation()
		_ = audit.LogEvent(r.Context(), "session.revoke_all", nil)
		a.publish(stream.Event{Kind: stream.EventTokenRevoked, UserID: principal.User.ID, Detail: "all"})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.svc.RevokeSession(r.Context(), principal.User.ID, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveRevocation()
	_ = audit.LogEvent(r.Context(), "session.revoke", map[string]any{"session_id": id})
	a.publish(stream.Event{Kind: stream.EventTokenRevoked, UserID: principal.User.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, actionManageClients, resourceAll) {
			return
		}
		var req createClientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		created, err := a.svc.CreateClient(r.Context(), auth.CreateClientParams{
			Name:         req.Name,
			RedirectURIs: req.RedirectURIs,
			GrantTypes:   req.GrantTypes,
			Scopes:       req.Scopes,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "client.create", map[string]any{
			"client_id": created.Client.ID,
			"name":      created.Client.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/clients/%s", created.Client.ID))
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		if !a.ensurePermission(w, r, actionManageClients, resourceAll) {
			return
		}
		clients, err := a.svc.ListClients(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": clients})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, actionManageUsers, resourceAll) {
		return
	}
	users, err := a.svc.ListUsers(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	if len(parts) == 1 {
		a.handleUser(w, r, userID)
		return
	}
	switch strings.Join(parts[1:], "/") {
	case "status":
		a.handleUserStatus(w, r, userID)
	case "roles":
		a.handleUserRoles(w, r, userID)
	case "policies":
		a.handleUserPolicies(w, r, userID)
	case "permissions/check":
		a.handlePermissionCheck(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.allowSelfOr(w, r, userID, actionManageUsers) {
			return
		}
		user, err := a.svc.GetUser(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		if !a.allowSelfOr(w, r, userID, actionManageUsers) {
			return
		}
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateProfile(r.Context(), userID, auth.ProfileUpdate{
			Username: req.Username,
			Email:    req.Email,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.profile.update", map[string]any{"target": userID})
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, actionManageUsers, resourceAll) {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.SetUserStatus(r.Context(), userID, req.Status)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.status.update", map[string]any{
		"target": userID,
		"status": req.Status,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, actionManageRoles, resourceAll) {
		return
	}
	var req attachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RoleID) == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	var err error
	if r.Method == http.MethodPost {
		err = a.svc.AssignRole(r.Context(), userID, req.RoleID)
	} else {
		err = a.svc.UnassignRole(r.Context(), userID, req.RoleID)
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.role.change", map[string]any{
		"target":  userID,
		"role_id": req.RoleID,
		"method":  r.Method,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPolicies(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
		return
	}
	var req attachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PolicyID) == "" {
		writeError(w, r, http.StatusBadRequest, "policy_id is required")
		return
	}
	var err error
	if r.Method == http.MethodPost {
		err = a.svc.AttachPolicy(r.Context(), userID, req.PolicyID)
	} else {
		err = a.svc.DetachPolicy(r.Context(), userID, req.PolicyID)
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.policy.change", map[string]any{
		"target":    userID,
		"policy_id": req.PolicyID,
		"method":    r.Method,
	})
	a.publish(stream.Event{Kind: stream.EventPolicyChanged, UserID: userID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.allowSelfOr(w, r, userID, actionManageUsers) {
		return
	}
	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	allowed, err := a.svc.CheckPermission(r.Context(), userID, req.Action, req.Resource)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":  allowed,
		"action":   req.Action,
		"resource": req.Resource,
	})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, actionManageRoles, resourceAll) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{"role_id": role.ID, "name": role.Name})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		if _, ok := requirePrincipal(w, r); !ok {
			return
		}
		roles, err := a.svc.ListRoles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	if len(parts) == 2 && parts[1] == "policies" {
		a.handleRolePolicies(w, r, roleID)
		return
	}
	if len(parts) > 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, actionManageRoles, resourceAll) {
		return
	}
	if err := a.svc.DeleteRole(r.Context(), roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePolicies(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
		return
	}
	var req attachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PolicyID) == "" {
		writeError(w, r, http.StatusBadRequest, "policy_id is required")
		return
	}
	var err error
	if r.Method == http.MethodPost {
		err = a.svc.AttachPolicyToRole(r.Context(), roleID, req.PolicyID)
	} else {
		err = a.svc.DetachPolicyFromRole(r.Context(), roleID, req.PolicyID)
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.policy.change", map[string]any{
		"role_id":   roleID,
		"policy_id": req.PolicyID,
		"method":    r.Method,
	})
	a.publish(stream.Event{Kind: stream.EventPolicyChanged})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
			return
		}
		var req createPolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		statements := make([]auth.Statement, 0, len(req.Statements))
		for _, st := range req.Statements {
			statements = append(statements, auth.Statement{
				SID:       st.SID,
				Effect:    auth.ParseEffect(st.Effect),
				Actions:   st.Actions,
				Resources: st.Resources,
			})
		}
		policy, err := a.svc.CreatePolicy(r.Context(), auth.CreatePolicyParams{
			TenantID:    req.TenantID,
			Name:        req.Name,
			Description: req.Description,
			Statements:  statements,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "policy.create", map[string]any{"policy_id": policy.ID, "name": policy.Name})
		a.publish(stream.Event{Kind: stream.EventPolicyChanged})
		w.Header().Set("Location", fmt.Sprintf("/v1/policies/%s", policy.ID))
		writeJSON(w, http.StatusCreated, policy)
	case http.MethodGet:
		if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
			return
		}
		policies, err := a.svc.ListPolicies(r.Context(), r.URL.Query().Get("tenant_id"))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": policies})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
			return
		}
		policy, err := a.svc.GetPolicy(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, policy)
	case http.MethodPut:
		if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
			return
		}
		var req updatePolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd := auth.UpdatePolicyParams{
			Name:        req.Name,
			Description: req.Description,
		}
		if req.Statements != nil {
			if len(req.Statements) == 0 {
				writeError(w, r, http.StatusBadRequest, "at least one statement is required")
				return
			}
			upd.Statements = make([]auth.Statement, 0, len(req.Statements))
			for _, st := range req.Statements {
				upd.Statements = append(upd.Statements, auth.Statement{
					SID:       st.SID,
					Effect:    auth.ParseEffect(st.Effect),
					Actions:   st.Actions,
					Resources: st.Resources,
				})
			}
		}
		policy, err := a.svc.UpdatePolicy(r.Context(), id, upd)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "policy.update", map[string]any{"policy_id": id})
		a.publish(stream.Event{Kind: stream.EventPolicyChanged})
		writeJSON(w, http.StatusOK, policy)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, actionManagePolicies, resourceAll) {
			return
		}
		if err := a.svc.DeletePolicy(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "policy.delete", map[string]any{"policy_id": id})
		a.publish(stream.Event{Kind: stream.EventPolicyChanged})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// allowSelfOr authorizes a request targeting userID when it comes from
// that same user, or from a principal holding the given action.
func (a *API) allowSelfOr(w http.ResponseWriter, r *http.Request, userID, action string) bool {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return false
	}
	if principal.User.ID == userID {
		return true
	}
	if principal.HasRole(AdminRole) || principal.Allowed(action, resourceAll) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "permission denied")
	return false
}
