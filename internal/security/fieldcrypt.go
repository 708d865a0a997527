package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCiphertext indicates an encrypted field could not be decoded or authenticated.
var ErrCiphertext = errors.New("invalid ciphertext")

// FieldCipher encrypts sensitive columns and derives deterministic lookup hashes.
//
// Encrypt is randomized (fresh GCM nonce per call), so ciphertexts are never compared.
// Equality lookups go through LookupHash, which is keyed separately.
type FieldCipher struct {
	aead      cipher.AEAD
	lookupKey []byte
}

// NewFieldCipher builds a cipher from a 32-byte encryption key and a lookup key.
// Keys may be given as hex (64 chars) or raw strings of the right length.
func NewFieldCipher(encryptionKey, lookupKey string) (*FieldCipher, error) {
	encKey, err := decodeKey(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("field cipher: encryption key: %w", err)
	}
	if len(encKey) != 32 {
		return nil, fmt.Errorf("field cipher: encryption key must be 32 bytes, got %d", len(encKey))
	}
	lookup := strings.TrimSpace(lookupKey)
	if lookup == "" {
		return nil, errors.New("field cipher: empty lookup key")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("field cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("field cipher: %w", err)
	}
	return &FieldCipher{aead: aead, lookupKey: []byte(lookup)}, nil
}

func decodeKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 64 {
		if decoded, err := hex.DecodeString(trimmed); err == nil {
			return decoded, nil
		}
	}
	if trimmed == "" {
		return nil, errors.New("empty key")
	}
	return []byte(trimmed), nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("field cipher: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}
	size := c.aead.NonceSize()
	if len(raw) < size {
		return "", ErrCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}

// LookupHash returns the hex HMAC-SHA256 of value under the lookup key.
func (c *FieldCipher) LookupHash(value string) string {
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
