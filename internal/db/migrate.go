package db

import (
	"fmt"

	"github.com/investkar/ledger/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the ledger schema.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Account{},
		&models.Investment{},
		&models.Transaction{},
		&models.WithdrawalRequest{},
		&models.PaymentIntent{},
		&models.DailyRunLog{},
		&models.OtpChallenge{},
		&models.Admin{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
