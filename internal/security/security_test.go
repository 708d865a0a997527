package security

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testLookupKey     = "lookup-key-for-tests"
)

func TestCredentialRoundTrip(t *testing.T) {
	salt, errSalt := NewSalt()
	if errSalt != nil {
		t.Fatalf("new salt: %v", errSalt)
	}
	if len(salt) != 32 {
		t.Fatalf("expected 32 hex chars of salt, got %d", len(salt))
	}
	hash := DeriveKey("123456", salt)
	if !VerifyCredential("123456", salt, hash) {
		t.Fatalf("expected correct secret to verify")
	}
	if VerifyCredential("654321", salt, hash) {
		t.Fatalf("expected wrong secret to fail")
	}
	for pos := 0; pos < len("123456"); pos++ {
		for digit := byte('0'); digit <= '9'; digit++ {
			changed := []byte("123456")
			if changed[pos] == digit {
				continue
			}
			changed[pos] = digit
			if VerifyCredential(string(changed), salt, hash) {
				t.Fatalf("secret %q differs at position %d but verified", changed, pos)
			}
		}
	}
	otherSalt, _ := NewSalt()
	if DeriveKey("123456", otherSalt) == hash {
		t.Fatalf("expected different salts to produce different hashes")
	}
}

func TestFieldCipherRandomizedButReversible(t *testing.T) {
	c, errNew := NewFieldCipher(testEncryptionKey, testLookupKey)
	if errNew != nil {
		t.Fatalf("new cipher: %v", errNew)
	}
	first, errEnc := c.Encrypt("9876543210")
	if errEnc != nil {
		t.Fatalf("encrypt: %v", errEnc)
	}
	second, _ := c.Encrypt("9876543210")
	if first == second {
		t.Fatalf("expected randomized ciphertexts")
	}
	plain, errDec := c.Decrypt(first)
	if errDec != nil || plain != "9876543210" {
		t.Fatalf("decrypt: got %q err=%v", plain, errDec)
	}
	if c.LookupHash("9876543210") != c.LookupHash("9876543210") {
		t.Fatalf("expected deterministic lookup hash")
	}
	if c.LookupHash("9876543210") == c.LookupHash("9876543211") {
		t.Fatalf("expected distinct lookup hashes")
	}
}

func TestFieldCipherRejectsTamperedCiphertext(t *testing.T) {
	c, _ := NewFieldCipher(testEncryptionKey, testLookupKey)
	enc, _ := c.Encrypt("HDFC0001234|1234567890")
	tampered := enc[:len(enc)-4] + "AAAA"
	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("expected ErrCiphertext, got %v", err)
	}
	if _, err := c.Decrypt("not base64!"); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("expected ErrCiphertext for garbage, got %v", err)
	}
}

func TestNewFieldCipherValidatesKeys(t *testing.T) {
	if _, err := NewFieldCipher("short", testLookupKey); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
	if _, err := NewFieldCipher(testEncryptionKey, " "); err == nil {
		t.Fatalf("expected empty lookup key to be rejected")
	}
}

func TestGenerateOTPRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatalf("generate otp: %v", err)
		}
		n, errParse := strconv.Atoi(code)
		if errParse != nil || len(code) != 6 || n < 100000 || n > 999999 {
			t.Fatalf("otp out of range: %q", code)
		}
	}
}

func TestAccountTokenRoundTrip(t *testing.T) {
	token, errSign := GenerateToken("secret", 42, "543210", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	claims, errParse := ParseToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.AccountID != 42 || claims.ReferralCode != "543210" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseToken("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
	expired, _ := GenerateToken("secret", 42, "543210", -time.Minute)
	if _, err := ParseToken("secret", expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAdminTokenNotAcceptedAsAccountToken(t *testing.T) {
	token, _ := GenerateAdminToken("secret", 7, "ops", time.Hour)
	if _, err := ParseToken("secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected admin token to be rejected as account token, got %v", err)
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil || claims.AdminID != 7 || !strings.EqualFold(claims.Username, "ops") {
		t.Fatalf("unexpected admin claims %+v err=%v", claims, err)
	}
}
