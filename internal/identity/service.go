package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/observability"
	"quill/internal/validation"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordResetTTL = time.Hour
	verifyEmailTTL   = 24 * time.Hour
	oauthStateTTL    = 10 * time.Minute
)

// Accounts is the user persistence the identity service needs.
type Accounts interface {
	Register(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, uid string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByProviderSubject(ctx context.Context, subject string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	UpdateFields(ctx context.Context, uid string, fields map[string]interface{}) error
}

// Session is returned by every successful sign-in.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// RegisterInput is the email/password sign-up payload.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Service is the identity provider adapter.
type Service struct {
	accounts  Accounts
	tokens    *TokenIssuer
	store     *TokenStore
	mailer    Mailer
	providers map[string]OAuthProvider
	hashCost  int
}

func NewService(accounts Accounts, tokens *TokenIssuer, store *TokenStore, mailer Mailer, providers ...OAuthProvider) *Service {
	s := &Service{
		accounts:  accounts,
		tokens:    tokens,
		store:     store,
		mailer:    mailer,
		providers: make(map[string]OAuthProvider),
		hashCost:  bcrypt.DefaultCost,
	}
	for _, p := range providers {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
	return s
}

// WithHashCost overrides the bcrypt cost.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	token, claims, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, &models.AppError{Code: models.CodeUnauthenticated, Message: "failed to issue session", Err: err}
	}
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

// Register creates an email/password account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)

	if err := validation.ValidateEmail(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if len([]rune(in.FullName)) > validation.MaxFullName {
		return nil, models.NewValidationError("full name is too long")
	}

	hashed, err := s.hash(in.Password)
	if err != nil {
		return nil, models.NewPersistenceError("hash password", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: hashed,
		Provider:     models.ProviderPassword,
		Preferences:  models.DefaultPreferences(),
		Role:         "user",
		LastActivity: now,
	}
	if err := s.accounts.Register(ctx, user); err != nil {
		return nil, err
	}

	s.sendVerification(ctx, user)
	return s.newSession(user)
}

// Login checks email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if models.IsCode(err, models.CodeNotFound) {
		return nil, models.NewUnauthenticatedError("Invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, models.NewUnauthenticatedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.NewUnauthenticatedError("Invalid credentials")
	}

	s.touch(ctx, user)
	return s.newSession(user)
}

func (s *Service) touch(ctx context.Context, user *models.User) {
	now := time.Now().UTC()
	if err := s.accounts.UpdateFields(ctx, user.ID, map[string]interface{}{"last_activity": now}); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to update last activity",
			slog.String("uid", user.ID), slog.String("error", err.Error()))
		return
	}
	user.LastActivity = now
}

// Logout revokes token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return models.NewUnauthenticatedError("Invalid or expired token")
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.store.Revoke(ctx, claims.ID, ttl); err != nil {
		if errors.Is(err, ErrTokenStoreUnavailable) {
			observability.GlobalLogger.WarnContext(ctx, "logout without revocation: token store unavailable")
			return nil
		}
		return models.NewPersistenceError("revoke session", err)
	}
	return nil
}

// Authenticate resolves a bearer token into a principal.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, models.NewUnauthenticatedError("Invalid or expired token")
	}

	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "revocation check failed, accepting token",
			slog.String("error", err.Error()))
	}
	if revoked {
		return Principal{}, models.NewUnauthenticatedError("Session has been revoked")
	}

	return Principal{UID: claims.Subject, Username: claims.Username}, nil
}

// BeginOAuth returns the provider's authorization URL with a fresh state.
func (s *Service) BeginOAuth(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", models.NewNotFoundError("OAuth provider", provider)
	}
	state, err := s.store.Issue(ctx, KindOAuthState, provider, oauthStateTTL)
	if err != nil {
		return "", models.NewPersistenceError("store oauth state", err)
	}
	return p.AuthCodeURL(state), nil
}

// CompleteOAuth finishes the redirect flow and signs the account in,
// linking or creating it as needed.
func (s *Service) CompleteOAuth(ctx context.Context, provider, state, code string) (*Session, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, models.NewNotFoundError("OAuth provider", provider)
	}

	stored, ok, err := s.store.Consume(ctx, KindOAuthState, state)
	if err != nil {
		return nil, models.NewPersistenceError("read oauth state", err)
	}
	if !ok || stored != provider {
		return nil, models.NewUnauthenticatedError("Invalid OAuth state")
	}

	ext, err := p.Identify(ctx, code)
	if err != nil {
		return nil, &models.AppError{Code: models.CodeUnauthenticated, Message: "OAuth sign-in failed", Err: err}
	}

	user, err := s.linkExternal(ctx, ext)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, user)
	return s.newSession(user)
}

func (s *Service) linkExternal(ctx context.Context, ext *ExternalIdentity) (*models.User, error) {
	subject := ext.Provider + ":" + ext.Subject

	user, err := s.accounts.GetByProviderSubject(ctx, subject)
	if err == nil {
		return user, nil
	}
	if !models.IsCode(err, models.CodeNotFound) {
		return nil, err
	}

	email := normalizeEmail(ext.Email)
	if email != "" {
		user, err = s.accounts.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if !ext.Verified {
				return nil, models.NewConflictError("An account with this email already exists")
			}
			fields := map[string]interface{}{"provider_subject": subject}
			if !user.IsVerified {
				fields["is_verified"] = true
			}
			if err := s.accounts.UpdateFields(ctx, user.ID, fields); err != nil {
				return nil, err
			}
			user.ProviderSubject = subject
			user.IsVerified = true
			return user, nil
		case !models.IsCode(err, models.CodeNotFound):
			return nil, err
		}
	}

	base := ext.Name
	if base == "" {
		base, _, _ = strings.Cut(email, "@")
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		username, err := s.uniqueUsername(ctx, base)
		if err != nil {
			return nil, err
		}
		user = &models.User{
			ID:              uuid.NewString(),
			Username:        username,
			FullName:        ext.Name,
			Email:           email,
			PhotoURL:        ext.Picture,
			Provider:        ext.Provider,
			ProviderSubject: subject,
			Preferences:     models.DefaultPreferences(),
			Role:            "user",
			IsVerified:      ext.Verified,
			LastActivity:    time.Now().UTC(),
		}
		err = s.accounts.Register(ctx, user)
		if err == nil {
			return user, nil
		}
		if !models.IsCode(err, models.CodeConflict) {
			return nil, err
		}
	}
	return nil, models.NewConflictError("Could not allocate a username")
}

// uniqueUsername lowercases base, keeps [a-z0-9], and appends 1, 2, ... until free.
func (s *Service) uniqueUsername(ctx context.Context, base string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) < 3 {
		clean += "user"
	}
	if len(clean) > 24 {
		clean = clean[:24]
	}

	candidate := clean
	for i := 1; i <= 50; i++ {
		free, err := s.accounts.UsernameAvailable(ctx, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
		candidate = clean + strconv.Itoa(i)
	}
	return clean + strings.ReplaceAll(uuid.NewString(), "-", "")[:6], nil
}

// UsernameAvailable reports whether username is valid and unreserved.
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return false, models.NewValidationError(err.Error())
	}
	return s.accounts.UsernameAvailable(ctx, username)
}

// RequestPasswordReset mails a one-time reset token. Unknown emails succeed
// without sending anything.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if models.IsCode(err, models.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := s.store.Issue(ctx, KindPasswordReset, user.ID, passwordResetTTL)
	if err != nil {
		return models.NewPersistenceError("issue reset token", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		observability.LogAsyncOperationError(ctx, "send_password_reset", err, map[string]interface{}{"uid": user.ID})
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validation.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError(err.Error())
	}
	uid, ok, err := s.store.Consume(ctx, KindPasswordReset, token)
	if err != nil {
		return models.NewPersistenceError("read reset token", err)
	}
	if !ok {
		return models.NewValidationError("Invalid or expired reset token")
	}
	return s.setPassword(ctx, uid, newPassword)
}

// ChangePassword re-checks the current password of the principal.
func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	user, err := s.accounts.GetByID(ctx, p.UID)
	if err != nil {
		return err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return models.NewUnauthenticatedError("Current password is incorrect")
	}
	if err := validation.ValidatePassword(next); err != nil {
		return models.NewValidationError(err.Error())
	}
	return s.setPassword(ctx, user.ID, next)
}

func (s *Service) setPassword(ctx context.Context, uid, password string) error {
	hashed, err := s.hash(password)
	if err != nil {
		return models.NewPersistenceError("hash password", err)
	}
	return s.accounts.UpdateFields(ctx, uid, map[string]interface{}{"password_hash": hashed})
}

// RequestEmailVerification mails a verification token to the principal.
func (s *Service) RequestEmailVerification(ctx context.Context) error {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	user, err := s.accounts.GetByID(ctx, p.UID)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return nil
	}
	token, err := s.store.Issue(ctx, KindVerifyEmail, user.ID, verifyEmailTTL)
	if err != nil {
		return models.NewPersistenceError("issue verification token", err)
	}
	if err := s.mailer.SendVerification(ctx, user.Email, token); err != nil {
		observability.LogAsyncOperationError(ctx, "send_verification", err, map[string]interface{}{"uid": user.ID})
	}
	return nil
}

func (s *Service) sendVerification(ctx context.Context, user *models.User) {
	token, err := s.store.Issue(ctx, KindVerifyEmail, user.ID, verifyEmailTTL)
	if err == nil {
		err = s.mailer.SendVerification(ctx, user.Email, token)
	}
	if err != nil {
		observability.LogAsyncOperationError(ctx, "send_verification", err, map[string]interface{}{"uid": user.ID})
	}
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	uid, ok, err := s.store.Consume(ctx, KindVerifyEmail, token)
	if err != nil {
		return models.NewPersistenceError("read verification token", err)
	}
	if !ok {
		return models.NewValidationError("Invalid or expired verification token")
	}
	return s.accounts.UpdateFields(ctx, uid, map[string]interface{}{"is_verified": true})
}

// GetUserByUsername resolves a username through its reservation.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.accounts.GetByUsername(ctx, username)
}
