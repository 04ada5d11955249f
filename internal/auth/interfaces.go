package auth

import (
	"context"
	"time"
)

// TokenService defines the interface for token creation and validation.
// Implementations include JWTService (HS256) and PasetoService (PASETO v4.local).
type TokenService interface {
	CreateToken(claims SessionClaims, duration time.Duration) (string, error)
	// VerifyToken returns ErrInvalidToken for any malformed, expired or
	// wrongly signed token.
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// PasswordHasher produces and checks slow salted password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// SecretGenerator produces the random material behind every opaque token.
// Tests substitute deterministic implementations.
type SecretGenerator interface {
	// OpaqueToken returns nBytes of randomness, hex encoded.
	OpaqueToken(nBytes int) (string, error)
	// TwoFactorCode returns a six digit code in [100000, 999999].
	TwoFactorCode() (string, error)
	// SessionToken returns the opaque identifier of a session row.
	SessionToken() (string, error)
}

// EmailService defines the interface for email operations
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
	SendTwoFactorCode(ctx context.Context, toEmail, code string) error
}

// RateLimiter throttles unauthenticated endpoints per client IP and per
// email address.
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}
