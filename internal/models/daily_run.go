package models

import (
	"time"

	"gorm.io/datatypes"
)

// DailyRunLog records that the accrual for a calendar date has been executed.
// The date primary key is what makes concurrent runs for the same day collide.
type DailyRunLog struct {
	RunDate   string         `gorm:"type:varchar(10);primaryKey"`      // YYYY-MM-DD.
	RunID     string         `gorm:"type:varchar(36);not null"`        // Correlates the run's return transactions.
	Credited  int            `gorm:"not null;default:0"`               // Investments credited.
	Completed int            `gorm:"not null;default:0"`               // Investments completed by the run.
	Summary   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Per-run totals.
	RunAt     time.Time      `gorm:"not null;autoCreateTime"`          // Execution timestamp.
}

// OtpChallenge is the current one-time code for a phone. One row per phone.
type OtpChallenge struct {
	PhoneHash string    `gorm:"type:varchar(64);primaryKey"` // Keyed HMAC of the phone.
	Code      string    `gorm:"type:varchar(6);not null"`    // Six-digit code.
	CreatedAt time.Time `gorm:"not null;index"`              // Issue timestamp.
}
