package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"identra.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// AdminRole short-circuits policy evaluation for operators.
const AdminRole = "admin"

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/login/2fa",
	"/v1/auth/refresh",
	"/v1/auth/password/forgot",
	"/v1/auth/password/reset",
	"/v1/auth/email/verify",
	"/v1/oauth/token",
	"/v1/oauth/introspect",
	"/v1/oauth/revoke",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth authenticates bearer tokens and loads the principal (user,
// roles, policy statements) into the request context. Public endpoints
// pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.svc.Tokens().ParseAccess(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				writeError(w, r, http.StatusUnauthorized, "token expired")
			case errors.Is(err, auth.ErrTokenInvalid):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := r.Context()
		if strings.HasPrefix(claims.Subject, "client:") {
			// client_credentials token: no user principal to load
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		principal, err := a.svc.Principal(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if !principal.User.Active() {
			writeError(w, r, http.StatusUnauthorized, "account disabled")
			return
		}

		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePrincipal returns the principal or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}

// ensurePermission gates admin operations: the admin role passes, otherwise
// the principal's policies must allow the action on the resource.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, action, resource string) bool {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return false
	}
	if principal.HasRole(AdminRole) {
		return true
	}
	if !principal.Allowed(action, resource) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
