package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/fintrack-api/internal/database"
)

const uniqueViolation = "23505"

// PostgresStore persists credentials through bun. Uniqueness of email and
// username is enforced by table constraints, not by prior lookups.
type PostgresStore struct {
	db bun.IDB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindUserByID retrieves a user by ID
func (r *PostgresStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUser(dbUser), nil
}

// FindUserByEmail retrieves a user by email, ignoring case
func (r *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("LOWER(email) = LOWER(?)", email).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUser(dbUser), nil
}

func (r *PostgresStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return mapDBUser(dbUser), nil
}

// CreateUser inserts a new user. Duplicate email or username is reported by
// the unique constraints in the same statement.
func (r *PostgresStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	dbUser := &database.User{
		Email:         nu.Email,
		Username:      nu.Username,
		PasswordHash:  nu.PasswordHash,
		Name:          nu.Name,
		EmailVerified: nu.EmailVerified,
		Active:        true,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if dupErr := mapUniqueViolation(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUser(dbUser), nil
}

func (r *PostgresStore) SetEmailVerified(ctx context.Context, userID int64, verified bool) error {
	return r.updateUser(ctx, userID, "email_verified = ?", verified)
}

func (r *PostgresStore) SetLastLogin(ctx context.Context, userID int64, at time.Time) error {
	return r.updateUser(ctx, userID, "last_login = ?", at)
}

func (r *PostgresStore) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	return r.updateUser(ctx, userID, "password_hash = ?", hash)
}

func (r *PostgresStore) SetTwoFactorEnabled(ctx context.Context, userID int64, enabled bool) error {
	return r.updateUser(ctx, userID, "two_factor_enabled = ?", enabled)
}

func (r *PostgresStore) updateUser(ctx context.Context, userID int64, set string, value any) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set(set, value).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresStore) CreateVerificationToken(ctx context.Context, userID int64, token string, typ TokenType, expiresAt time.Time) (*VerificationToken, error) {
	dbToken := &database.VerificationToken{
		UserID:    userID,
		Token:     token,
		Type:      string(typ),
		ExpiresAt: expiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbToken).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification token: %w", err)
	}

	return mapDBToken(dbToken), nil
}

func (r *PostgresStore) FindVerificationTokenByValue(ctx context.Context, token string) (*VerificationToken, error) {
	dbToken := new(database.VerificationToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}

	return mapDBToken(dbToken), nil
}

func (r *PostgresStore) FindLatestUnusedVerificationToken(ctx context.Context, userID int64, typ TokenType) (*VerificationToken, error) {
	dbToken := new(database.VerificationToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("user_id = ?", userID).
		Where("type = ?", string(typ)).
		Where("used = ?", false).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest verification token: %w", err)
	}

	return mapDBToken(dbToken), nil
}

// MarkVerificationTokenUsed is a conditional update, so two concurrent
// consumers cannot both succeed.
func (r *PostgresStore) MarkVerificationTokenUsed(ctx context.Context, tokenID int64) error {
	result, err := r.db.NewUpdate().
		Model((*database.VerificationToken)(nil)).
		Set("used = ?", true).
		Where("id = ?", tokenID).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark verification token used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	exists, err := r.db.NewSelect().
		Model((*database.VerificationToken)(nil)).
		Where("id = ?", tokenID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check verification token: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrTokenAlreadyUsed
}

func (r *PostgresStore) IncrementVerificationAttempts(ctx context.Context, tokenID int64) (int, error) {
	var attempts int
	err := r.db.NewUpdate().
		Model((*database.VerificationToken)(nil)).
		Set("attempts = attempts + 1").
		Where("id = ?", tokenID).
		Returning("attempts").
		Scan(ctx, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to record verification attempt: %w", err)
	}

	return attempts, nil
}

func (r *PostgresStore) RevokeUnusedVerificationTokens(ctx context.Context, userID int64, typ TokenType) (int, error) {
	result, err := r.db.NewUpdate().
		Model((*database.VerificationToken)(nil)).
		Set("used = ?", true).
		Where("user_id = ?", userID).
		Where("type = ?", string(typ)).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke verification tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

func (r *PostgresStore) CreateSession(ctx context.Context, ns NewSession) (*Session, error) {
	dbSession := &database.Session{
		UserID:    ns.UserID,
		Token:     ns.Token,
		ExpiresAt: ns.ExpiresAt,
		IPAddress: ns.IPAddress,
		UserAgent: ns.UserAgent,
	}

	_, err := r.db.NewInsert().
		Model(dbSession).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return mapDBSession(dbSession), nil
}

func (r *PostgresStore) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	dbSession := new(database.Session)
	err := r.db.NewSelect().
		Model(dbSession).
		Where("token = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return mapDBSession(dbSession), nil
}

func (r *PostgresStore) DeleteSessionByToken(ctx context.Context, token string) error {
	result, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresStore) DeleteAllSessionsForUser(ctx context.Context, userID int64) (int, error) {
	result, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// DeleteExpired removes expired sessions and dead verification tokens.
// Should be run periodically (see auth.Janitor).
func (r *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	sessions, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}

	tokens, err := r.db.NewDelete().
		Model((*database.VerificationToken)(nil)).
		WhereOr("used = ?", true).
		WhereOr("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	sessionRows, err := sessions.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	tokenRows, err := tokens.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(sessionRows + tokenRows), nil
}

// WithinTx runs fn inside a database transaction. Calls made while already
// inside a transaction join it.
func (r *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	db, ok := r.db.(*bun.DB)
	if !ok {
		return fn(ctx, r)
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &PostgresStore{db: tx})
	})
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch {
		case strings.Contains(pqErr.Constraint, "username"):
			return ErrDuplicateUsername
		case strings.Contains(pqErr.Constraint, "email"):
			return ErrDuplicateEmail
		}
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		if strings.Contains(err.Error(), "username") {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return nil
}

func mapDBUser(dbu *database.User) *User {
	return &User{
		ID:               dbu.ID,
		Email:            dbu.Email,
		Username:         dbu.Username,
		PasswordHash:     dbu.PasswordHash,
		Name:             dbu.Name,
		EmailVerified:    dbu.EmailVerified,
		Active:           dbu.Active,
		TwoFactorEnabled: dbu.TwoFactorEnabled,
		CreatedAt:        dbu.CreatedAt,
		LastLogin:        dbu.LastLogin,
	}
}

func mapDBToken(dbt *database.VerificationToken) *VerificationToken {
	return &VerificationToken{
		ID:        dbt.ID,
		UserID:    dbt.UserID,
		Token:     dbt.Token,
		Type:      TokenType(dbt.Type),
		ExpiresAt: dbt.ExpiresAt,
		Used:      dbt.Used,
		Attempts:  dbt.Attempts,
		CreatedAt: dbt.CreatedAt,
	}
}

func mapDBSession(dbs *database.Session) *Session {
	return &Session{
		ID:        dbs.ID,
		UserID:    dbs.UserID,
		Token:     dbs.Token,
		ExpiresAt: dbs.ExpiresAt,
		IPAddress: dbs.IPAddress,
		UserAgent: dbs.UserAgent,
		CreatedAt: dbs.CreatedAt,
	}
}
