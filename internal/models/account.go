package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents an investor identified by phone number.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PhoneHash      string `gorm:"type:varchar(64);not null;uniqueIndex"` // Keyed HMAC of the phone, used for lookup.
	PhoneEncrypted string `gorm:"type:text;not null"`                    // AES-GCM ciphertext of the phone, display only.

	CredentialHash string `gorm:"type:varchar(64);not null"` // PBKDF2 hash of the 6-digit secret.
	Salt           string `gorm:"type:varchar(32);not null"` // Per-account random salt.

	WalletBalance decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Spendable balance, never negative.
	Version       int64           `gorm:"not null;default:0"`                    // Incremented on every balance change.

	ReferralCode string  `gorm:"type:varchar(16);not null;uniqueIndex"` // Code other users enter on signup.
	ReferredByID *uint64 `gorm:"index"`                                  // Referrer account, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
