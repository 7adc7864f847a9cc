package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"identra.org/internal/auth"
)

func newTestAPI(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	tokens, err := auth.NewTokens(auth.TokenConfig{
		SigningSecret: []byte("test-signing-secret-0123456789ab"),
		Issuer:        "identra-test",
	}, nil)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	svc, err := auth.NewService(auth.NewMemoryStore(), tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, ReadyProbe{}, "test")
	return api.Handler(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func doForm(t *testing.T, h http.Handler, path string, form url.Values, basicUser, basicPass string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func registerAndLogin(t *testing.T, h http.Handler, username string) (string, string) {
	t.Helper()
	rr := doJSON(t, h, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "Sup3rSecret",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "Sup3rSecret",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("login body missing tokens: %v", body)
	}
	return access, refresh
}

func TestHealthAndInfo(t *testing.T) {
	h, _ := newTestAPI(t)

	rr := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/info", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("info: %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["version"] != "test" {
		t.Fatalf("version = %v", body["version"])
	}
}

func TestRegisterLoginMe(t *testing.T) {
	h, _ := newTestAPI(t)
	access, _ := registerAndLogin(t, h, "alice")

	rr := doJSON(t, h, http.MethodGet, "/v1/auth/me", access, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["username"] != "alice" {
		t.Fatalf("me body = %v", body)
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Fatal("password hash serialized to the client")
	}

	// Duplicate registration conflicts.
	rr = doJSON(t, h, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "alice2@example.com",
		"password": "Sup3rSecret",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", rr.Code)
	}
}

func TestProtectedEndpointRejectsBadTokens(t *testing.T) {
	h, _ := newTestAPI(t)

	rr := doJSON(t, h, http.MethodGet, "/v1/auth/me", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodGet, "/v1/auth/me", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", rr.Code)
	}
}

func TestLoginFailureStatus(t *testing.T) {
	h, _ := newTestAPI(t)
	registerAndLogin(t, h, "alice")

	rr := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": "WrongPassw0rd",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials: %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestRefreshAndLogout(t *testing.T) {
	h, _ := newTestAPI(t)
	access, refresh := registerAndLogin(t, h, "alice")

	rr := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}
	rotated := decodeBody(t, rr)["refresh_token"].(string)
	if rotated == refresh {
		t.Fatal("refresh token was not rotated")
	}

	// The rotated-out token is dead.
	rr = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/auth/logout", access, map[string]any{
		"refresh_token": rotated,
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": rotated,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", rr.Code)
	}
}

func TestOAuthAuthorizationCodeFlow(t *testing.T) {
	h, svc := newTestAPI(t)
	access, _ := registerAndLogin(t, h, "alice")

	created, err := svc.CreateClient(context.Background(), auth.CreateClientParams{
		Name:         "web-app",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Scopes:       []string{"openid"},
	})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	authorize := func() string {
		rr := doJSON(t, h, http.MethodPost, "/v1/oauth/authorize", access, map[string]string{
			"client_id":     created.Client.ID,
			"redirect_uri":  "https://app.example.com/callback",
			"scope":         "openid",
			"state":         "xyz",
			"response_type": "code",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("authorize: %d %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		redirect, _ := body["redirect_uri"].(string)
		if !strings.Contains(redirect, "code=") || !strings.Contains(redirect, "state=xyz") {
			t.Fatalf("redirect_uri = %q", redirect)
		}
		return body["code"].(string)
	}

	code := authorize()
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/callback"},
	}
	rr := doForm(t, h, "/v1/oauth/token", form, created.Client.ID, created.Secret)
	if rr.Code != http.StatusOK {
		t.Fatalf("token: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["token_type"] != "Bearer" || body["access_token"] == "" || body["refresh_token"] == "" {
		t.Fatalf("token body = %v", body)
	}

	// Codes are single-use; replay is an invalid_grant.
	rr = doForm(t, h, "/v1/oauth/token", form, created.Client.ID, created.Secret)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("code replay: %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "invalid_grant" {
		t.Fatalf("replay error = %v", got)
	}

	// Wrong client secret is an invalid_client with a challenge header.
	form.Set("code", authorize())
	rr = doForm(t, h, "/v1/oauth/token", form, created.Client.ID, "wrong-secret")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret: %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "invalid_client" {
		t.Fatalf("bad secret error = %v", got)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	// Unknown grant types are rejected before touching the store.
	rr = doForm(t, h, "/v1/oauth/token", url.Values{"grant_type": {"password"}}, "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown grant: %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "unsupported_grant_type" {
		t.Fatalf("unknown grant error = %v", got)
	}
}

func TestOAuthIntrospectAndRevoke(t *testing.T) {
	h, _ := newTestAPI(t)
	access, refresh := registerAndLogin(t, h, "alice")

	rr := doForm(t, h, "/v1/oauth/introspect", url.Values{"token": {access}}, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("introspect access: %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["active"] != true {
		t.Fatalf("access token inactive: %v", body)
	}

	rr = doForm(t, h, "/v1/oauth/revoke", url.Values{"token": {refresh}}, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: %d", rr.Code)
	}

	rr = doForm(t, h, "/v1/oauth/introspect", url.Values{"token": {refresh}}, "", "")
	if body := decodeBody(t, rr); body["active"] != false {
		t.Fatalf("revoked token still active: %v", body)
	}

	// RFC 7009: revoking an unknown token still succeeds.
	rr = doForm(t, h, "/v1/oauth/revoke", url.Values{"token": {"unknown.token"}}, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke unknown: %d", rr.Code)
	}
}

func TestAdminEndpointsGatedByRole(t *testing.T) {
	h, svc := newTestAPI(t)
	ctx := context.Background()
	access, _ := registerAndLogin(t, h, "alice")

	rr := doJSON(t, h, http.MethodGet, "/v1/users", access, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin list users: %d", rr.Code)
	}

	role, err := svc.CreateRole(ctx, AdminRole, "operators")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	users, err := svc.ListUsers(ctx, "")
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers: %v (%d)", err, len(users))
	}
	if err := svc.AssignRole(ctx, users[0].ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	// The principal is rebuilt per request, so the same token now passes.
	rr = doJSON(t, h, http.MethodGet, "/v1/users", access, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin list users: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if _, ok := body["items"]; !ok {
		t.Fatalf("list body = %v", body)
	}
}

func TestPolicyLifecycleEndpoints(t *testing.T) {
	h, svc := newTestAPI(t)
	ctx := context.Background()
	admin, _ := registerAndLogin(t, h, "alice")
	bobAccess, _ := registerAndLogin(t, h, "bob")

	adminRole, err := svc.CreateRole(ctx, AdminRole, "operators")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	users, err := svc.ListUsers(ctx, "")
	if err != nil || len(users) != 2 {
		t.Fatalf("ListUsers: %v (%d)", err, len(users))
	}
	var aliceID, bobID string
	for _, u := range users {
		switch u.Username {
		case "alice":
			aliceID = u.ID
		case "bob":
			bobID = u.ID
		}
	}
	if err := svc.AssignRole(ctx, aliceID, adminRole.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	rr := doJSON(t, h, http.MethodPost, "/v1/policies", admin, map[string]any{
		"name": "user-admins",
		"statements": []map[string]any{
			{"effect": "deny", "actions": []string{"identra:users:manage"}, "resources": []string{"*"}},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create policy: %d %s", rr.Code, rr.Body.String())
	}
	policyID, _ := decodeBody(t, rr)["id"].(string)
	if policyID == "" {
		t.Fatalf("policy body = %s", rr.Body.String())
	}

	// Flip the statement set from deny to allow in place.
	rr = doJSON(t, h, http.MethodPut, "/v1/policies/"+policyID, admin, map[string]any{
		"statements": []map[string]any{
			{"effect": "allow", "actions": []string{"identra:users:manage"}, "resources": []string{"*"}},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update policy: %d %s", rr.Code, rr.Body.String())
	}

	auditor, err := svc.CreateRole(ctx, "user-admin", "manages accounts")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/roles/"+auditor.ID+"/policies", admin, map[string]any{
		"policy_id": policyID,
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("attach policy to role: %d %s", rr.Code, rr.Body.String())
	}

	// Bob is gated until he holds the role carrying the policy.
	rr = doJSON(t, h, http.MethodGet, "/v1/users", bobAccess, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("bob before role: %d", rr.Code)
	}
	if err := svc.AssignRole(ctx, bobID, auditor.ID); err != nil {
		t.Fatalf("AssignRole bob: %v", err)
	}
	rr = doJSON(t, h, http.MethodGet, "/v1/users", bobAccess, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bob with role policy: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/roles/"+auditor.ID+"/policies", admin, map[string]any{
		"policy_id": policyID,
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("detach policy from role: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodGet, "/v1/users", bobAccess, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("bob after detach: %d", rr.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	access, _ := registerAndLogin(t, h, "alice")

	rr := doJSON(t, h, http.MethodGet, "/v1/sessions", access, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sessions: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("sessions body = %v", body)
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/sessions", access, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("revoke all sessions: %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestAPI(t)

	rr := doJSON(t, h, http.MethodGet, "/v1/auth/login", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("Allow = %q", allow)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	h, _ := newTestAPI(t)
	rr := doJSON(t, h, http.MethodGet, "/v1/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path: %d", rr.Code)
	}
}
