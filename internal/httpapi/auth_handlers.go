package httpapi

import (
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"identra.org/internal/audit"
	"identra.org/internal/auth"
	"identra.org/internal/obs"
	"identra.org/internal/stream"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type login2FARequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type passwordForgotRequest struct {
	Email string `json:"email"`
}

type passwordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type emailVerifyRequest struct {
	Token string `json:"token"`
}

type twoFAVerifyRequest struct {
	Code string `json:"code"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), auth.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		TenantID: req.TenantID,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	a.publish(stream.Event{Kind: stream.EventUserRegistered, UserID: user.ID})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.ObserveLogin("failure")
		a.publish(stream.Event{Kind: stream.EventLoginFailed, Detail: "password"})
		handleAuthError(w, r, err)
		return
	}
	if result.Requires2FA {
		obs.ObserveLogin("2fa_challenge")
		writeJSON(w, http.StatusOK, map[string]any{
			"requires_2fa": true,
			"temp_token":   result.TempToken,
		})
		return
	}
	obs.ObserveLogin("success")
	obs.ObserveTokensIssued("password")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": result.User.ID,
	})
	a.publish(stream.Event{Kind: stream.EventLogin, UserID: result.User.ID})
	writeJSON(w, http.StatusOK, result.Pair)
}

func (a *API) handleLogin2FA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req login2FARequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.Verify2FACode(r.Context(), req.TempToken, req.Code)
	if err != nil {
		obs.ObserveLogin("2fa_failure")
		a.publish(stream.Event{Kind: stream.EventLoginFailed, Detail: "2fa"})
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveLogin("success")
	obs.ObserveTokensIssued("password")
	_ = audit.LogEvent(r.Context(), "auth.login.2fa", map[string]any{
		"user_id": result.User.ID,
	})
	a.publish(stream.Event{Kind: stream.EventLogin, UserID: result.User.ID})
	writeJSON(w, http.StatusOK, result.Pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveTokensIssued("refresh_token")
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var err error
	if req.All {
		err = a.svc.RevokeAll(r.Context(), principal.User.ID)
	} else {
		err = a.svc.RevokeToken(r.Context(), req.RefreshToken)
	}
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveRevocation()
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"all": req.All,
	})
	a.publish(stream.Event{Kind: stream.EventTokenRevoked, UserID: principal.User.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	user := principal.User
	user.Roles = principal.Roles
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.change", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordForgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := a.svc.SendPasswordResetToken(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "operation failed")
		return
	}
	// The response is identical whether or not the email is registered.
	// The token leaves through the mail path, not this response; until a
	// mailer is wired it is logged for operator delivery.
	if token != "" {
		_ = audit.LogEvent(r.Context(), "auth.password.reset_requested", map[string]any{
			"email": req.Email,
		})
		obs.Logger().Printf("password reset token issued for %s: %s", req.Email, token)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEmailSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	token, err := a.svc.SendEmailVerificationToken(r.Context(), principal.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.Logger().Printf("email verification token issued for %s: %s", principal.User.Email, token)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.email.verified", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handle2FASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	setup, err := a.svc.Setup2FA(r.Context(), principal.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.2fa.setup", nil)
	writeJSON(w, http.StatusOK, setup)
}

// handle2FAQR renders the pending provisioning URI as a PNG for scanning.
func (a *API) handle2FAQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	uri := a.svc.TOTPProvisioningURI(principal.User)
	if uri == "" {
		writeError(w, r, http.StatusNotFound, "2fa setup not started")
		return
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "qr encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (a *API) handle2FAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req twoFAVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	codes, err := a.svc.Verify2FASetup(r.Context(), principal.User.ID, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.2fa.enabled", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        true,
		"recovery_codes": codes,
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
	})
}
