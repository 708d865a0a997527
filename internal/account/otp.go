package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/ratelimit"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IssueOtp creates or replaces the OTP challenge for phone.
func (r *Registry) IssueOtp(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	phone = NormalizePhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	code, err := security.GenerateOTP()
	if err != nil {
		return nil, err
	}
	challenge := models.OtpChallenge{
		PhoneHash: r.cipher.LookupHash(phone),
		Code:      code,
		CreatedAt: r.now(),
	}
	if errUpsert := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "created_at"}),
	}).Create(&challenge).Error; errUpsert != nil {
		return nil, fmt.Errorf("issue otp: %w", errUpsert)
	}
	return &challenge, nil
}

// RequestOtp issues a challenge and delivers it by SMS with a separate security code.
// Delivery failures are returned as apperr.ErrTransport and are not retried.
func (r *Registry) RequestOtp(ctx context.Context, phone string) error {
	phone = NormalizePhone(phone)
	challenge, err := r.IssueOtp(ctx, phone)
	if err != nil {
		return err
	}
	securityCode, err := security.GenerateOTP()
	if err != nil {
		return err
	}
	if errSend := r.sender.SendOtp(ctx, phone, challenge.Code, securityCode); errSend != nil {
		log.WithError(errSend).Warnf("otp delivery to %s failed", util.MaskPhone(phone))
		if errors.Is(errSend, apperr.ErrTransport) {
			return errSend
		}
		return fmt.Errorf("%v: %w", errSend, apperr.ErrTransport)
	}
	return nil
}

// VerifyOtp checks code against the current challenge for phone. A matching code consumes
// the challenge so it cannot be replayed.
func (r *Registry) VerifyOtp(ctx context.Context, phone, code string) error {
	phone = NormalizePhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return err
	}
	phoneHash := r.cipher.LookupHash(phone)
	if err := r.limiter.Guard(ctx, phoneHash, ratelimit.OtpVerify); err != nil {
		return err
	}

	var challenge models.OtpChallenge
	if errFind := r.db.WithContext(ctx).Where("phone_hash = ?", phoneHash).First(&challenge).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("otp challenge: %w", apperr.ErrNotFound)
		}
		return errFind
	}
	if r.now().Sub(challenge.CreatedAt) > OtpTTL {
		return fmt.Errorf("otp challenge: %w", apperr.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) != 1 {
		return apperr.ErrMismatch
	}
	if errDelete := r.db.WithContext(ctx).
		Where("phone_hash = ? AND code = ?", phoneHash, challenge.Code).
		Delete(&models.OtpChallenge{}).Error; errDelete != nil {
		return fmt.Errorf("consume otp: %w", errDelete)
	}
	return nil
}

// PurgeExpiredOtps deletes challenges older than OtpTTL and returns how many were removed.
func (r *Registry) PurgeExpiredOtps(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", r.now().Add(-OtpTTL)).
		Delete(&models.OtpChallenge{})
	return res.RowsAffected, res.Error
}
