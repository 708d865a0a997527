package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Credential derivation parameters.
const (
	credentialIterations = 100000
	credentialKeyLength  = 32
	saltBytes            = 16
)

// NewSalt returns a hex-encoded 16-byte random salt.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveKey derives the stored credential hash from a secret and salt.
func DeriveKey(secret, salt string) string {
	key := pbkdf2.Key([]byte(secret), []byte(salt), credentialIterations, credentialKeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// VerifyCredential re-derives the hash and compares it in constant time.
func VerifyCredential(secret, salt, expectedHash string) bool {
	derived := DeriveKey(secret, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(expectedHash)) == 1
}
