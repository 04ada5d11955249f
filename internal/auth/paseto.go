package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/oklog/ulid/v2"
)

var ErrInvalidToken = errors.New("invalid token")

// SessionClaims is what gets embedded in a bearer token at issue time.
type SessionClaims struct {
	UserID    int64
	Email     string
	Username  string
	Name      string
	SessionID string
}

// TokenClaims represents the claims recovered from a verified token
type TokenClaims struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	Name      string    `json:"name,omitempty"`
	SessionID string    `json:"sid"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// PasetoService handles PASETO token creation and validation
// Uses v4.local (symmetric encryption with XChaCha20-Poly1305)
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
	now          func() time.Time
}

func NewPasetoService(symmetricKey []byte) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{
		symmetricKey: key,
		now:          time.Now,
	}, nil
}

// CreateToken generates a new PASETO v4.local token with the given claims and duration
func (s *PasetoService) CreateToken(claims SessionClaims, duration time.Duration) (string, error) {
	now := s.now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(duration))
	token.SetJti(ulid.Make().String())
	token.SetString("user_id", strconv.FormatInt(claims.UserID, 10))
	token.SetString("email", claims.Email)
	token.SetString("username", claims.Username)
	token.SetString("name", claims.Name)
	token.SetString("sid", claims.SessionID)

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken validates a PASETO v4.local token and returns the claims.
// The parser checks expiration by default.
func (s *PasetoService) VerifyToken(tokenStr string) (*TokenClaims, error) {
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	rawUserID, err := token.GetString("user_id")
	if err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims := &TokenClaims{UserID: userID}
	for key, dst := range map[string]*string{
		"email":    &claims.Email,
		"username": &claims.Username,
		"name":     &claims.Name,
		"sid":      &claims.SessionID,
	} {
		if *dst, err = token.GetString(key); err != nil {
			return nil, ErrInvalidToken
		}
	}

	if claims.TokenID, err = token.GetJti(); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt, err = token.GetIssuedAt(); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt, err = token.GetExpiration(); err != nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
