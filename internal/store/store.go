// Package store owns user, verification token and session records.
//
// It is pure data access: no password policy, no expiry policy. Callers
// (the auth service) decide what a record means; the store only guarantees
// that each call is atomic and that uniqueness constraints hold even under
// concurrent writers.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrTokenAlreadyUsed  = errors.New("verification token already used")
)

// TokenType distinguishes the three verification flows.
type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypePasswordReset     TokenType = "password_reset"
	TokenTypeTwoFactor         TokenType = "two_factor"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeEmailVerification, TokenTypePasswordReset, TokenTypeTwoFactor:
		return true
	default:
		return false
	}
}

type User struct {
	ID               int64      `json:"id"`
	Email            string     `json:"email"`
	Username         *string    `json:"username,omitempty"`
	PasswordHash     string     `json:"-"` // Never expose password hash in JSON
	Name             *string    `json:"name,omitempty"`
	EmailVerified    bool       `json:"email_verified"`
	Active           bool       `json:"active"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
}

// NewUser carries the fields supplied at registration.
type NewUser struct {
	Email         string
	PasswordHash  string
	Username      *string
	Name          *string
	EmailVerified bool
}

type VerificationToken struct {
	ID        int64
	UserID    int64
	Token     string
	Type      TokenType
	ExpiresAt time.Time
	Used      bool
	Attempts  int
	CreatedAt time.Time
}

// IsValid reports whether the token can still be consumed at now.
func (t *VerificationToken) IsValid(now time.Time) bool {
	return !t.Used && t.ExpiresAt.After(now)
}

type Session struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// IsExpired reports whether the session has passed its expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type NewSession struct {
	UserID    int64
	Token     string
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
}

// Store is the credential store consumed by the auth service.
type Store interface {
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u NewUser) (*User, error)
	SetEmailVerified(ctx context.Context, userID int64, verified bool) error
	SetLastLogin(ctx context.Context, userID int64, at time.Time) error
	SetPasswordHash(ctx context.Context, userID int64, hash string) error
	SetTwoFactorEnabled(ctx context.Context, userID int64, enabled bool) error

	CreateVerificationToken(ctx context.Context, userID int64, token string, typ TokenType, expiresAt time.Time) (*VerificationToken, error)
	FindVerificationTokenByValue(ctx context.Context, token string) (*VerificationToken, error)
	// FindLatestUnusedVerificationToken returns the newest unused token of
	// typ, whether or not it has expired.
	FindLatestUnusedVerificationToken(ctx context.Context, userID int64, typ TokenType) (*VerificationToken, error)
	// MarkVerificationTokenUsed flips used from false to true. A second call
	// for the same id returns ErrTokenAlreadyUsed.
	MarkVerificationTokenUsed(ctx context.Context, tokenID int64) error
	// IncrementVerificationAttempts bumps the attempt counter of a token and
	// returns the new value.
	IncrementVerificationAttempts(ctx context.Context, tokenID int64) (int, error)
	// RevokeUnusedVerificationTokens marks every unused token of typ owned by
	// userID as used and returns how many were revoked.
	RevokeUnusedVerificationTokens(ctx context.Context, userID int64, typ TokenType) (int, error)

	CreateSession(ctx context.Context, s NewSession) (*Session, error)
	FindSessionByToken(ctx context.Context, token string) (*Session, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteAllSessionsForUser(ctx context.Context, userID int64) (int, error)

	// DeleteExpired removes expired sessions and tokens that are used or
	// expired. It returns the number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// WithinTx runs fn against a store whose writes commit together or not
	// at all.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
