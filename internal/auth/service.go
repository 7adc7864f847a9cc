package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"identra.org/internal/ids"
)

const (
	defaultAuthCodeTTL     = 10 * time.Minute
	defaultVerificationTTL = time.Hour

	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// Service orchestrates credential verification, token lifecycle, 2FA and
// policy evaluation over a Store. It holds no ambient state: clock, signing
// configuration and TTL policy are injected at construction.
type Service struct {
	store  Store
	tokens *Tokens
	now    func() time.Time

	totpCfg         TOTPConfig
	totpIssuer      string
	authCodeTTL     time.Duration
	verificationTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithTOTPIssuer sets the issuer label in provisioning URIs.
func WithTOTPIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(issuer) != "" {
			s.totpIssuer = strings.TrimSpace(issuer)
		}
		return nil
	}
}

// WithAuthCodeTTL configures authorization code lifetime.
func WithAuthCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.authCodeTTL = ttl
		}
		return nil
	}
}

// WithVerificationTTL configures password reset / email verification token
// lifetime.
func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
		return nil
	}
}

// NewService constructs the auth service.
func NewService(store Store, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		store:           store,
		tokens:          tokens,
		now:             time.Now,
		totpCfg:         DefaultTOTPConfig(),
		totpIssuer:      "Identra",
		authCodeTTL:     defaultAuthCodeTTL,
		verificationTTL: defaultVerificationTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the token codec, used by the HTTP layer to validate
// bearer tokens without another round trip through the service.
func (s *Service) Tokens() *Tokens { return s.tokens }

// TokenPair is the result of any token-issuing operation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// RegisterParams carries the registration input.
type RegisterParams struct {
	Username string
	Email    string
	Password string
	TenantID string
}

// Register creates a new user. Username and email must be unique; the
// password policy applies. There is no auto-login.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := CheckPasswordPolicy(p.Password); err != nil {
		return nil, err
	}
	users := s.store.Users()
	if _, err := users.FindByUsername(ctx, p.Username); err == nil {
		return nil, fmt.Errorf("%w: username %q", ErrAlreadyExists, p.Username)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := users.FindByEmail(ctx, p.Email); err == nil {
		return nil, fmt.Errorf("%w: email %q", ErrAlreadyExists, p.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		TenantID:     p.TenantID,
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: hash,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// LoginResult distinguishes a completed login from a pending second factor.
type LoginResult struct {
	Pair        TokenPair
	User        *User
	Requires2FA bool
	TempToken   string
}

// Login verifies credentials and issues a token pair, or a short-lived temp
// token when TOTP is enabled. A missing user and a wrong password return
// the same ErrInvalidCredentials so usernames cannot be enumerated.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.Active() {
		return LoginResult{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.TOTPEnabled {
		temp, _, err := s.tokens.SignTemp2FA(user.ID, user.TenantID)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{User: user, Requires2FA: true, TempToken: temp}, nil
	}
	if err := s.recordLogin(ctx, user); err != nil {
		return LoginResult{}, err
	}
	pair, err := s.issuePair(ctx, user, "", "")
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Pair: pair, User: user}, nil
}

// Verify2FACode completes a login that returned Requires2FA. The code may
// be a TOTP code or an unused recovery code; a recovery code is consumed
// atomically so it can never be replayed.
func (s *Service) Verify2FACode(ctx context.Context, tempToken, code string) (LoginResult, error) {
	claims, err := s.tokens.Parse(tempToken)
	if err != nil {
		return LoginResult{}, err
	}
	if claims.TokenType != TokenTypeTemp2FA {
		return LoginResult{}, ErrTokenInvalid
	}
	user, err := s.store.Users().FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrTokenInvalid
		}
		return LoginResult{}, err
	}
	if !user.Active() || !user.TOTPEnabled || user.TOTPSecret == "" {
		return LoginResult{}, ErrUnauthorized
	}
	ok, err := VerifyTOTP(user.TOTPSecret, code, s.now(), s.totpCfg)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !ok {
		ok, err = s.consumeRecoveryCode(ctx, user.ID, code)
		if err != nil {
			return LoginResult{}, err
		}
	}
	if !ok {
		return LoginResult{}, ErrInvalidCode
	}
	if err := s.recordLogin(ctx, user); err != nil {
		return LoginResult{}, err
	}
	pair, err := s.issuePair(ctx, user, "", "")
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Pair: pair, User: user}, nil
}

func (s *Service) consumeRecoveryCode(ctx context.Context, userID, code string) (bool, error) {
	normalized := NormalizeRecoveryCode(code)
	if normalized == "" {
		return false, nil
	}
	active, err := s.store.RecoveryCodes().ListActive(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, rc := range active {
		match, err := VerifySecret(rc.CodeHash, normalized)
		if err != nil || !match {
			continue
		}
		// MarkUsed is conditional; losing the race to a concurrent
		// attempt means the code is spent.
		if err := s.store.RecoveryCodes().MarkUsed(ctx, rc.ID, s.now().UTC()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// TwoFASetup is returned by Setup2FA.
type TwoFASetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// Setup2FA generates a TOTP secret and stores it in a pending state. The
// enabled flag flips only after Verify2FASetup sees a valid code.
func (s *Service) Setup2FA(ctx context.Context, userID string) (TwoFASetup, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return TwoFASetup{}, err
	}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		return TwoFASetup{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	user.TOTPSecret = secret
	user.TOTPEnabled = false
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return TwoFASetup{}, err
	}
	return TwoFASetup{
		Secret:          secret,
		ProvisioningURI: BuildTOTPProvisioningURI(s.totpIssuer, user.Username, secret),
	}, nil
}

// TOTPProvisioningURI rebuilds the otpauth URI for the user's stored secret.
func (s *Service) TOTPProvisioningURI(user *User) string {
	if user == nil || user.TOTPSecret == "" {
		return ""
	}
	return BuildTOTPProvisioningURI(s.totpIssuer, user.Username, user.TOTPSecret)
}

// Verify2FASetup checks a code against the pending secret and, on success,
// enables TOTP and returns a fresh set of one-time recovery codes. The
// plaintext codes are shown exactly once; only hashes are stored.
func (s *Service) Verify2FASetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPSecret == "" {
		return nil, fmt.Errorf("%w: 2fa setup not started", ErrInvalidInput)
	}
	ok, err := VerifyTOTP(user.TOTPSecret, code, s.now(), s.totpCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !ok {
		return nil, ErrInvalidCode
	}
	codes, err := GenerateRecoveryCodes(10)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	now := s.now().UTC()
	records := make([]RecoveryCode, 0, len(codes))
	for _, c := range codes {
		hash, err := HashSecret(NormalizeRecoveryCode(c))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		records = append(records, RecoveryCode{
			ID:        ids.New(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
	}
	if err := s.store.RecoveryCodes().Replace(ctx, userID, records); err != nil {
		return nil, err
	}
	user.TOTPEnabled = true
	user.UpdatedAt = now
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	return codes, nil
}

// ChangePassword verifies the current password, applies the password
// policy, and replaces the hash.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if err := CheckPasswordPolicy(next); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	return s.store.Users().Update(ctx, user)
}

// SendPasswordResetToken creates a single-use reset token for the account
// registered under email. The returned token goes to the mail collaborator;
// an unknown email yields an empty token and no error so the endpoint can
// answer identically either way.
func (s *Service) SendPasswordResetToken(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return s.createVerificationToken(ctx, user.ID, VerificationPasswordReset)
}

// ResetPassword consumes a reset token and replaces the password. All
// existing refresh tokens of the user are revoked.
func (s *Service) ResetPassword(ctx context.Context, token, next string) error {
	if err := CheckPasswordPolicy(next); err != nil {
		return err
	}
	rec, err := s.store.Verifications().Consume(ctx, hashToken(token), VerificationPasswordReset, s.now().UTC())
	if err != nil {
		return err
	}
	user, err := s.store.Users().FindByID(ctx, rec.UserID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, user); err != nil {
		return err
	}
	return s.store.RefreshTokens().RevokeAllForUser(ctx, user.ID)
}

// SendEmailVerificationToken creates a single-use email verification token.
func (s *Service) SendEmailVerificationToken(ctx context.Context, userID string) (string, error) {
	if _, err := s.store.Users().FindByID(ctx, userID); err != nil {
		return "", err
	}
	return s.createVerificationToken(ctx, userID, VerificationEmail)
}

// VerifyEmail consumes a verification token and flips email_verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	rec, err := s.store.Verifications().Consume(ctx, hashToken(token), VerificationEmail, s.now().UTC())
	if err != nil {
		return err
	}
	user, err := s.store.Users().FindByID(ctx, rec.UserID)
	if err != nil {
		return err
	}
	user.EmailVerified = true
	user.UpdatedAt = s.now().UTC()
	return s.store.Users().Update(ctx, user)
}

func (s *Service) createVerificationToken(ctx context.Context, userID, tokenType string) (string, error) {
	token, err := RandomURLSafeString(32)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	rec := &VerificationToken{
		ID:        ids.New(),
		UserID:    userID,
		Type:      tokenType,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.verificationTTL),
		CreatedAt: now,
	}
	if err := s.store.Verifications().Create(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

// AuthorizeRequest is the OAuth2 authorize input. The caller is an already
// authenticated user; the login UI sits outside this service.
type AuthorizeRequest struct {
	UserID              string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult carries the code back to the client's redirect URI.
type AuthorizeResult struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// Authorize issues a single-use authorization code bound to the client,
// redirect URI and optional PKCE challenge.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if req.ResponseType != "code" {
		return AuthorizeResult{}, ErrUnsupportedResponseType
	}
	client, err := s.store.Clients().FindByID(ctx, req.ClientID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return AuthorizeResult{}, fmt.Errorf("%w: redirect_uri is not registered", ErrInvalidInput)
	}
	if !client.AllowsScope(splitScope(req.Scope)) {
		return AuthorizeResult{}, fmt.Errorf("%w: scope exceeds client grant", ErrInvalidInput)
	}
	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if method == "" {
			method = PKCEMethodPlain
		}
		if method != PKCEMethodPlain && method != PKCEMethodS256 {
			return AuthorizeResult{}, fmt.Errorf("%w: unsupported code_challenge_method", ErrInvalidInput)
		}
	} else {
		method = ""
	}
	if _, err := s.store.Users().FindByID(ctx, req.UserID); err != nil {
		return AuthorizeResult{}, err
	}
	code, err := RandomURLSafeString(32)
	if err != nil {
		return AuthorizeResult{}, err
	}
	now := s.now().UTC()
	rec := &AuthorizationCode{
		CodeHash:            hashToken(code),
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.authCodeTTL),
		CreatedAt:           now,
	}
	if err := s.store.AuthCodes().Create(ctx, rec); err != nil {
		return AuthorizeResult{}, err
	}
	return AuthorizeResult{Code: code, State: req.State}, nil
}

// ExchangeRequest is the authorization_code grant input.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeCode redeems an authorization code for a token pair. The code is
// consumed atomically: of two concurrent exchanges exactly one succeeds.
func (s *Service) ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenPair, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenPair{}, err
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return TokenPair{}, ErrUnsupportedGrantType
	}
	rec, err := s.store.AuthCodes().Consume(ctx, hashToken(req.Code), s.now().UTC())
	if err != nil {
		return TokenPair{}, err
	}
	// The code is burned at this point; any mismatch below invalidates
	// the exchange without resurrecting it.
	if rec.ClientID != req.ClientID || rec.RedirectURI != req.RedirectURI {
		return TokenPair{}, ErrInvalidOrExpiredToken
	}
	if rec.CodeChallenge != "" {
		if req.CodeVerifier == "" || !VerifyPKCE(req.CodeVerifier, rec.CodeChallenge, rec.CodeChallengeMethod) {
			return TokenPair{}, ErrInvalidOrExpiredToken
		}
	}
	user, err := s.store.Users().FindByID(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	return s.issuePair(ctx, user, rec.ClientID, rec.Scope)
}

// ClientCredentials issues an access token for a confidential client acting
// on its own behalf. No refresh token is minted.
func (s *Service) ClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (TokenPair, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenPair{}, err
	}
	if !client.AllowsGrant(GrantClientCredentials) {
		return TokenPair{}, ErrUnsupportedGrantType
	}
	if !client.AllowsScope(splitScope(scope)) {
		return TokenPair{}, fmt.Errorf("%w: scope exceeds client grant", ErrInvalidInput)
	}
	access, exp, err := s.tokens.SignAccess("client:"+client.ID, "", nil, scope)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:     access,
		ExpiresIn:       int64(exp.Sub(s.now()).Seconds()),
		AccessExpiresAt: exp,
	}, nil
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	client, err := s.store.Clients().FindByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := VerifySecret(client.SecretHash, clientSecret)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return client, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. Revoked and expired tokens report distinct errors.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	tokenID, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrTokenInvalid
	}
	store := s.store.RefreshTokens()
	rec, err := store.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, err
	}
	if rec.Revoked {
		return TokenPair{}, ErrTokenRevoked
	}
	if s.now().After(rec.ExpiresAt) {
		return TokenPair{}, ErrTokenExpired
	}
	if !VerifyRefreshSecret(rec.TokenHash, secret) {
		// A wrong secret against a live record suggests token theft;
		// kill the session.
		_ = store.MarkRevoked(ctx, rec.ID)
		return TokenPair{}, ErrTokenInvalid
	}
	user, err := s.store.Users().FindByID(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	if !user.Active() {
		return TokenPair{}, ErrUnauthorized
	}
	// Conditional consume so that of two concurrent exchanges with the
	// same token exactly one wins; the loser sees the token revoked.
	if err := store.Consume(ctx, rec.ID); err != nil {
		return TokenPair{}, err
	}
	return s.issuePair(ctx, user, rec.ClientID, rec.Scope)
}

// Introspection is the introspect result. Claims is set for live access
// tokens; refresh token fields are reported through the flat fields.
type Introspection struct {
	Active    bool       `json:"active"`
	TokenType string     `json:"token_type,omitempty"`
	Subject   string     `json:"sub,omitempty"`
	ClientID  string     `json:"client_id,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
	Claims    *Claims    `json:"-"`
}

// Introspect reports whether a token (access JWT or refresh token) is
// active, without mutating any state.
func (s *Service) Introspect(ctx context.Context, token string) (Introspection, error) {
	if claims, err := s.tokens.ParseAccess(token); err == nil {
		exp := claims.ExpiresAt.Time
		return Introspection{
			Active:    true,
			TokenType: TokenTypeAccess,
			Subject:   claims.Subject,
			Scope:     claims.Scope,
			ExpiresAt: &exp,
			Claims:    claims,
		}, nil
	}
	tokenID, secret, err := SplitRefreshToken(token)
	if err != nil {
		return Introspection{}, nil
	}
	rec, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Introspection{}, nil
		}
		return Introspection{}, err
	}
	if rec.Revoked || s.now().After(rec.ExpiresAt) || !VerifyRefreshSecret(rec.TokenHash, secret) {
		return Introspection{}, nil
	}
	exp := rec.ExpiresAt
	return Introspection{
		Active:    true,
		TokenType: GrantRefreshToken,
		Subject:   rec.UserID,
		ClientID:  rec.ClientID,
		Scope:     rec.Scope,
		ExpiresAt: &exp,
	}, nil
}

// RevokeToken revokes the refresh token presented in wire form. Revoking
// an unknown or already revoked token is a no-op, as is presenting the
// right id with the wrong secret: the caller must hold the full token,
// not just a session id it learned elsewhere.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	tokenID, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	rec, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !VerifyRefreshSecret(rec.TokenHash, secret) {
		return nil
	}
	if err := s.store.RefreshTokens().MarkRevoked(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// RevokeSession revokes a single session by id, checking ownership.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	rec, err := s.store.RefreshTokens().Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrNotFound
	}
	return s.store.RefreshTokens().MarkRevoked(ctx, sessionID)
}

// RevokeAll invalidates every refresh token of the user atomically relative
// to concurrent logins.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.store.RefreshTokens().RevokeAllForUser(ctx, userID)
}

// Sessions lists the user's refresh token sessions, revoked ones included.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*RefreshToken, error) {
	return s.store.RefreshTokens().ListByUser(ctx, userID)
}

func (s *Service) recordLogin(ctx context.Context, user *User) error {
	now := s.now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	return s.store.Users().Update(ctx, user)
}

func (s *Service) issuePair(ctx context.Context, user *User, clientID, scope string) (TokenPair, error) {
	roles, err := s.store.Users().RoleNames(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := s.tokens.SignAccess(user.ID, user.TenantID, roles, scope)
	if err != nil {
		return TokenPair{}, err
	}
	wire, rec, err := s.tokens.NewRefreshToken(user.ID, clientID, scope)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     wire,
		ExpiresIn:        int64(accessExp.Sub(s.now()).Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func splitScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
