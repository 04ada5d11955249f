package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// MinOpaqueTokenBytes keeps verification and reset tokens out of brute
	// force range.
	MinOpaqueTokenBytes     = 20
	DefaultOpaqueTokenBytes = 32

	twoFactorCodeMin  = 100000
	twoFactorCodeSpan = 900000
)

// CryptoSecrets draws every secret from crypto/rand.
type CryptoSecrets struct{}

func (CryptoSecrets) OpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultOpaqueTokenBytes
	}
	if nBytes < MinOpaqueTokenBytes {
		nBytes = MinOpaqueTokenBytes
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (CryptoSecrets) TwoFactorCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(twoFactorCodeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+twoFactorCodeMin), nil
}

func (CryptoSecrets) SessionToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
