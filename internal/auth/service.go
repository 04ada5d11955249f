package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	passwordvalidator "github.com/wagslane/go-password-validator"

	"github.com/redmonkez12/fintrack-api/internal/logging"
	"github.com/redmonkez12/fintrack-api/internal/store"
)

var (
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrDuplicateUsername     = errors.New("username already taken")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailNotVerified      = errors.New("email not verified, please check your inbox")
	ErrAccountDisabled       = errors.New("account is disabled")
	ErrInvalidOrExpiredCode  = errors.New("invalid or expired verification code")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUserNotFound          = errors.New("user not found")

	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrWeakPassword       = errors.New("password is too weak")
)

const (
	maxEmailLength    = 254
	maxPasswordLength = 72 // bcrypt ignores anything longer

	defaultMaxCodeAttempts = 5
)

// Policy holds the deployment-configurable knobs of the auth flows.
type Policy struct {
	// AutoVerifyEmail marks new accounts verified at registration. When
	// false, registration sends a verification email and withholds the
	// session until the address is confirmed.
	AutoVerifyEmail bool
	// RequireTwoFactor forces the emailed code step for every account.
	// Accounts can also opt in individually.
	RequireTwoFactor bool
	// MaxCodeAttempts is how many guesses a two-factor code survives. The
	// code is burned once the limit is reached.
	MaxCodeAttempts int

	EmailVerificationTTL time.Duration
	TwoFactorTTL         time.Duration
	PasswordResetTTL     time.Duration
	SessionTTL           time.Duration

	MinPasswordEntropy float64
	EmailSendTimeout   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		AutoVerifyEmail:      true,
		RequireTwoFactor:     false,
		MaxCodeAttempts:      defaultMaxCodeAttempts,
		EmailVerificationTTL: 24 * time.Hour,
		TwoFactorTTL:         time.Hour,
		PasswordResetTTL:     time.Hour,
		SessionTTL:           7 * 24 * time.Hour,
		MinPasswordEntropy:   40,
		EmailSendTimeout:     10 * time.Second,
	}
}

// PublicUser is the subset of a user returned to clients.
type PublicUser struct {
	ID               int64   `json:"id"`
	Email            string  `json:"email"`
	Username         *string `json:"username"`
	Name             *string `json:"name"`
	EmailVerified    bool    `json:"email_verified"`
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
}

func newPublicUser(u *store.User) PublicUser {
	return PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		Name:             u.Name,
		EmailVerified:    u.EmailVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

// AuthResult is returned by every flow that ends authenticated.
type AuthResult struct {
	User  PublicUser
	Token string
}

// LoginResult either carries a session or signals that a code was sent.
type LoginResult struct {
	RequireTwoFactor bool
	User             PublicUser
	Token            string
}

// ClientMeta describes the caller for session audit records.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
	Name     string
	ClientMeta
}

type LoginInput struct {
	Email    string
	Password string
	ClientMeta
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSecrets replaces the crypto/rand secret generator.
func WithSecrets(g SecretGenerator) Option {
	return func(s *Service) { s.secrets = g }
}

// Service handles authentication business logic
type Service struct {
	store    store.Store
	tokens   TokenService
	hasher   PasswordHasher
	secrets  SecretGenerator
	emails   EmailService
	logger   *logging.Logger
	policy   Policy
	now      func() time.Time
	inflight sync.WaitGroup

	dummyOnce sync.Once
	dummyHash string
}

func NewService(
	st store.Store,
	tokens TokenService,
	hasher PasswordHasher,
	emails EmailService,
	logger *logging.Logger,
	policy Policy,
	opts ...Option,
) *Service {
	s := &Service{
		store:   st,
		tokens:  tokens,
		hasher:  hasher,
		secrets: CryptoSecrets{},
		emails:  emails,
		logger:  logger,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until every in-flight notification has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Register creates a user and, unless verification is mandatory, signs the
// user in straight away.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := s.validatePassword(in.Password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var (
		result            *AuthResult
		verificationToken string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		newUser, err := tx.CreateUser(ctx, store.NewUser{
			Email:         email,
			PasswordHash:  passwordHash,
			Username:      optional(in.Username),
			Name:          optional(in.Name),
			EmailVerified: s.policy.AutoVerifyEmail,
		})
		if err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicateEmail):
				return ErrDuplicateEmail
			case errors.Is(err, store.ErrDuplicateUsername):
				return ErrDuplicateUsername
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		if !s.policy.AutoVerifyEmail {
			verificationToken, err = s.issueToken(ctx, tx, newUser.ID, store.TokenTypeEmailVerification, s.policy.EmailVerificationTTL)
			if err != nil {
				return err
			}
			result = &AuthResult{User: newPublicUser(newUser)}
			return nil
		}

		result, err = s.startSession(ctx, tx, newUser, in.ClientMeta)
		return err
	})
	if err != nil {
		return nil, err
	}

	if verificationToken != "" {
		s.dispatch("verification", email, func(ctx context.Context) error {
			return s.emails.SendVerificationEmail(ctx, email, verificationToken)
		})
	}

	return result, nil
}

// Login checks credentials and either opens a session or starts the
// two-factor step.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	existingUser, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same hashing time as a real mismatch.
			s.hasher.Verify(in.Password, s.timingHash())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(in.Password, existingUser.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !existingUser.Active {
		return nil, ErrAccountDisabled
	}

	if !existingUser.EmailVerified {
		token, err := s.issueToken(ctx, s.store, existingUser.ID, store.TokenTypeEmailVerification, s.policy.EmailVerificationTTL)
		if err != nil {
			return nil, err
		}
		s.dispatch("verification", email, func(ctx context.Context) error {
			return s.emails.SendVerificationEmail(ctx, email, token)
		})
		return nil, ErrEmailNotVerified
	}

	if s.policy.RequireTwoFactor || existingUser.TwoFactorEnabled {
		code, err := s.secrets.TwoFactorCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate two-factor code: %w", err)
		}
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
			// only the newest code is ever accepted
			if _, err := tx.RevokeUnusedVerificationTokens(ctx, existingUser.ID, store.TokenTypeTwoFactor); err != nil {
				return fmt.Errorf("failed to revoke previous two-factor codes: %w", err)
			}
			if _, err := tx.CreateVerificationToken(ctx, existingUser.ID, code, store.TokenTypeTwoFactor, s.now().Add(s.policy.TwoFactorTTL)); err != nil {
				return fmt.Errorf("failed to store two-factor code: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.dispatch("two_factor", email, func(ctx context.Context) error {
			return s.emails.SendTwoFactorCode(ctx, email, code)
		})
		return &LoginResult{RequireTwoFactor: true}, nil
	}

	var result *AuthResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.SetLastLogin(ctx, existingUser.ID, s.now()); err != nil {
			return fmt.Errorf("failed to update last login: %w", err)
		}
		result, err = s.startSession(ctx, tx, existingUser, in.ClientMeta)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: result.User, Token: result.Token}, nil
}

// VerifyCode completes a login that stopped at the two-factor step.
func (s *Service) VerifyCode(ctx context.Context, email, code string, meta ClientMeta) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existingUser, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	token, err := s.store.FindLatestUnusedVerificationToken(ctx, existingUser.ID, store.TokenTypeTwoFactor)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("failed to get two-factor code: %w", err)
	}
	if !token.IsValid(s.now()) {
		return nil, ErrInvalidOrExpiredCode
	}
	if err := s.checkCode(ctx, token, code); err != nil {
		return nil, err
	}

	var result *AuthResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.MarkVerificationTokenUsed(ctx, token.ID); err != nil {
			if errors.Is(err, store.ErrTokenAlreadyUsed) {
				return ErrInvalidOrExpiredCode
			}
			return fmt.Errorf("failed to consume two-factor code: %w", err)
		}
		if err := tx.SetLastLogin(ctx, existingUser.ID, s.now()); err != nil {
			return fmt.Errorf("failed to update last login: %w", err)
		}
		result, err = s.startSession(ctx, tx, existingUser, meta)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// checkCode counts the attempt before comparing, so concurrent guesses
// cannot exceed the attempt budget. The code is burned when the budget runs
// out.
func (s *Service) checkCode(ctx context.Context, token *store.VerificationToken, code string) error {
	maxAttempts := s.policy.MaxCodeAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxCodeAttempts
	}

	attempts, err := s.store.IncrementVerificationAttempts(ctx, token.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("failed to record two-factor attempt: %w", err)
	}

	match := attempts <= maxAttempts &&
		subtle.ConstantTimeCompare([]byte(token.Token), []byte(strings.TrimSpace(code))) == 1
	if match {
		return nil
	}

	if attempts >= maxAttempts {
		err := s.store.MarkVerificationTokenUsed(ctx, token.ID)
		if err != nil && !errors.Is(err, store.ErrTokenAlreadyUsed) {
			return fmt.Errorf("failed to burn two-factor code: %w", err)
		}
		s.logger.Warn("two-factor code burned after too many attempts", "user_id", token.UserID, "attempts", attempts)
	}
	return ErrInvalidOrExpiredCode
}

// VerifyEmail consumes an email verification token. Unknown, used, expired
// and wrong-type tokens all fail the same way.
func (s *Service) VerifyEmail(ctx context.Context, tokenValue string) error {
	token, err := s.consumableToken(ctx, tokenValue, store.TokenTypeEmailVerification)
	if err != nil {
		return err
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := s.consume(ctx, tx, token); err != nil {
			return err
		}
		if err := tx.SetEmailVerified(ctx, token.UserID, true); err != nil {
			return fmt.Errorf("failed to verify email: %w", err)
		}
		return nil
	})
}

// RequestPasswordReset initiates the password reset process
// Always returns nil to prevent email enumeration attacks
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	existingUser, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to get user for password reset", "error", err)
		}
		return nil
	}

	token, err := s.issueToken(ctx, s.store, existingUser.ID, store.TokenTypePasswordReset, s.policy.PasswordResetTTL)
	if err != nil {
		s.logger.Warn("failed to create password reset token", "error", err)
		return nil
	}

	s.dispatch("password_reset", email, func(ctx context.Context) error {
		return s.emails.SendPasswordResetEmail(ctx, email, token)
	})

	return nil
}

// ResetPassword replaces the password and signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, tokenValue, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.consumableToken(ctx, tokenValue, store.TokenTypePasswordReset)
	if err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var revoked int
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := s.consume(ctx, tx, token); err != nil {
			return err
		}
		if err := tx.SetPasswordHash(ctx, token.UserID, passwordHash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		revoked, err = tx.DeleteAllSessionsForUser(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset", "user_id", token.UserID, "sessions_revoked", revoked)
	return nil
}

// ResendVerificationEmail sends a new verification email to the user
// Always returns nil to prevent email enumeration attacks
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	existingUser, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to get user for resend verification", "error", err)
		}
		return nil
	}
	if existingUser.EmailVerified {
		return nil
	}

	token, err := s.issueToken(ctx, s.store, existingUser.ID, store.TokenTypeEmailVerification, s.policy.EmailVerificationTTL)
	if err != nil {
		s.logger.Warn("failed to create verification token", "error", err)
		return nil
	}

	s.dispatch("verification", email, func(ctx context.Context) error {
		return s.emails.SendVerificationEmail(ctx, email, token)
	})
	return nil
}

// Logout deletes the session bound to a bearer token. Logging out of a
// session that is already gone succeeds.
func (s *Service) Logout(ctx context.Context, signedToken string) error {
	claims, err := s.tokens.VerifyToken(signedToken)
	if err != nil {
		return ErrInvalidToken
	}

	if err := s.store.DeleteSessionByToken(ctx, claims.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Authenticate verifies a bearer token and checks that its session has not
// been revoked.
func (s *Service) Authenticate(ctx context.Context, signedToken string) (*TokenClaims, error) {
	claims, err := s.tokens.VerifyToken(signedToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.store.FindSessionByToken(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != claims.UserID || session.IsExpired(s.now()) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// CurrentUser returns the public profile of an authenticated user.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*PublicUser, error) {
	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	pu := newPublicUser(u)
	return &pu, nil
}

// SetTwoFactor turns the per-account two-factor requirement on or off.
func (s *Service) SetTwoFactor(ctx context.Context, userID int64, enabled bool) (*PublicUser, error) {
	if err := s.store.SetTwoFactorEnabled(ctx, userID, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update two-factor setting: %w", err)
	}
	return s.CurrentUser(ctx, userID)
}

// startSession records a session row and signs a bearer token bound to it.
func (s *Service) startSession(ctx context.Context, tx store.Store, u *store.User, meta ClientMeta) (*AuthResult, error) {
	sessionToken, err := s.secrets.SessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	if _, err := tx.CreateSession(ctx, store.NewSession{
		UserID:    u.ID,
		Token:     sessionToken,
		ExpiresAt: s.now().Add(s.policy.SessionTTL),
		IPAddress: optional(meta.IPAddress),
		UserAgent: optional(meta.UserAgent),
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	signed, err := s.tokens.CreateToken(SessionClaims{
		UserID:    u.ID,
		Email:     u.Email,
		Username:  deref(u.Username),
		Name:      deref(u.Name),
		SessionID: sessionToken,
	}, s.policy.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &AuthResult{User: newPublicUser(u), Token: signed}, nil
}

func (s *Service) issueToken(ctx context.Context, st store.Store, userID int64, typ store.TokenType, ttl time.Duration) (string, error) {
	token, err := s.secrets.OpaqueToken(DefaultOpaqueTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s token: %w", typ, err)
	}
	if _, err := st.CreateVerificationToken(ctx, userID, token, typ, s.now().Add(ttl)); err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", typ, err)
	}
	return token, nil
}

// consumableToken looks a token up by value and checks its type and
// validity. Every failure maps to ErrInvalidOrExpiredToken.
func (s *Service) consumableToken(ctx context.Context, value string, typ store.TokenType) (*store.VerificationToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	token, err := s.store.FindVerificationTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("failed to get %s token: %w", typ, err)
	}
	if token.Type != typ || !token.IsValid(s.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return token, nil
}

func (s *Service) consume(ctx context.Context, tx store.Store, token *store.VerificationToken) error {
	if err := tx.MarkVerificationTokenUsed(ctx, token.ID); err != nil {
		if errors.Is(err, store.ErrTokenAlreadyUsed) || errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to consume %s token: %w", token.Type, err)
	}
	return nil
}

// dispatch sends an email in the background with a bounded timeout. Failures
// are logged and never reach the caller.
func (s *Service) dispatch(kind, email string, send func(ctx context.Context) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.policy.EmailSendTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			s.logger.Warn("failed to send email", "kind", kind, "email", email, "error", err)
		}
	}()
}

func (s *Service) validatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}
	if err := passwordvalidator.Validate(password, s.policy.MinPasswordEntropy); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}
	return nil
}

// timingHash is a throwaway hash verified against when the email is unknown.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("timing-equalisation-placeholder")
	})
	return s.dummyHash
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return "", ErrInvalidEmailFormat
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmailFormat
	}
	return email, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
