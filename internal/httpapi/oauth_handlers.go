package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"identra.org/internal/audit"
	"identra.org/internal/auth"
	"identra.org/internal/obs"
	"identra.org/internal/stream"
)

type authorizeRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	ResponseType        string `json:"response_type"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// handleAuthorize issues an authorization code for the authenticated user.
// The consent UI lives in front of this endpoint; by the time the request
// arrives here the user has already approved the client.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.Authorize(r.Context(), auth.AuthorizeRequest{
		UserID:              principal.User.ID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		ResponseType:        req.ResponseType,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "oauth.authorize", map[string]any{
		"client_id": req.ClientID,
		"scope":     req.Scope,
	})
	redirect := ""
	if u, err := url.Parse(req.RedirectURI); err == nil {
		q := u.Query()
		q.Set("code", result.Code)
		if result.State != "" {
			q.Set("state", result.State)
		}
		u.RawQuery = q.Encode()
		redirect = u.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":         result.Code,
		"state":        result.State,
		"redirect_uri": redirect,
	})
}

// handleToken is the OAuth2 token endpoint. It speaks form encoding and
// the RFC 6749 error vocabulary rather than the service's JSON envelope.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	grantType := r.PostFormValue("grant_type")

	var (
		pair auth.TokenPair
		err  error
	)
	switch grantType {
	case auth.GrantAuthorizationCode:
		pair, err = a.svc.ExchangeCode(r.Context(), auth.ExchangeRequest{
			Code:         r.PostFormValue("code"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
		})
		if err == nil {
			obs.ObserveCodeExchange("success")
		} else {
			obs.ObserveCodeExchange("failure")
		}
	case auth.GrantRefreshToken:
		pair, err = a.svc.Refresh(r.Context(), r.PostFormValue("refresh_token"))
	case auth.GrantClientCredentials:
		pair, err = a.svc.ClientCredentials(r.Context(), clientID, clientSecret, r.PostFormValue("scope"))
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unknown grant_type")
		return
	}
	if err != nil {
		writeOAuthFailure(w, err)
		return
	}

	obs.ObserveTokensIssued(grantType)
	_ = audit.LogEvent(r.Context(), "oauth.token", map[string]any{
		"grant_type": grantType,
		"client_id":  clientID,
	})
	if grantType == auth.GrantAuthorizationCode {
		a.publish(stream.Event{Kind: stream.EventCodeExchanged, ClientID: clientID})
	}
	a.publish(stream.Event{Kind: stream.EventTokenIssued, ClientID: clientID, Detail: grantType})

	resp := map[string]any{
		"access_token": pair.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   pair.ExpiresIn,
	}
	if pair.RefreshToken != "" {
		resp["refresh_token"] = pair.RefreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostFormValue("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	result, err := a.svc.Introspect(r.Context(), token)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "introspection failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRevoke implements RFC 7009: unknown tokens still return 200.
func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostFormValue("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := a.svc.RevokeToken(r.Context(), token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	obs.ObserveRevocation()
	_ = audit.LogEvent(r.Context(), "oauth.revoke", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// clientCredentials reads the client id/secret from Basic auth, falling
// back to form fields.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func writeOAuthError(w http.ResponseWriter, code int, oauthCode, description string) {
	writeJSON(w, code, map[string]any{
		"error":             oauthCode,
		"error_description": description,
	})
}

func writeOAuthFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
	case errors.Is(err, auth.ErrUnsupportedGrantType):
		writeOAuthError(w, http.StatusBadRequest, "unauthorized_client", "grant type not allowed for this client")
	case errors.Is(err, auth.ErrInvalidOrExpiredToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenRevoked):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant is invalid, expired or revoked")
	case errors.Is(err, auth.ErrInvalidInput):
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope", strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrUnauthorized):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "account is not active")
	default:
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "token request failed")
	}
}
