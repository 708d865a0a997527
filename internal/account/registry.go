package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/ratelimit"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/sms"
	"github.com/investkar/ledger/internal/util"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// OtpTTL is how long an issued OTP stays valid.
	OtpTTL = 10 * time.Minute
	// referralCodeAttempts bounds suffix retries when a phone suffix code is taken.
	referralCodeAttempts = 5
)

// ReferralBonus is credited to the referrer when a referred account registers.
var ReferralBonus = decimal.NewFromInt(50)

// Registry owns account identity, credentials, OTP challenges and wallet access.
type Registry struct {
	db        *gorm.DB
	cipher    *security.FieldCipher
	limiter   *ratelimit.Limiter
	book      wallet.Poster
	sender    sms.Sender
	publisher events.Publisher
	now       func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithPoster replaces the wallet poster.
func WithPoster(p wallet.Poster) Option { return func(r *Registry) { r.book = p } }

// WithSender sets the OTP SMS transport.
func WithSender(s sms.Sender) Option { return func(r *Registry) { r.sender = s } }

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(r *Registry) { r.publisher = p } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// NewRegistry constructs a Registry.
func NewRegistry(conn *gorm.DB, cipher *security.FieldCipher, limiter *ratelimit.Limiter, opts ...Option) *Registry {
	r := &Registry{
		db:        conn,
		cipher:    cipher,
		limiter:   limiter,
		book:      wallet.NewBook(),
		sender:    sms.LogSender{},
		publisher: events.Fallback{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = ratelimit.New(nil)
	}
	return r
}

// Register creates an account for phone with the given 6-digit secret. A non-empty
// referralCode credits the referrer on a best-effort basis.
func (r *Registry) Register(ctx context.Context, phone, secret, referralCode string) (*models.Account, error) {
	phone = NormalizePhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}

	salt, err := security.NewSalt()
	if err != nil {
		return nil, err
	}
	encrypted, err := r.cipher.Encrypt(phone)
	if err != nil {
		return nil, err
	}
	phoneHash := r.cipher.LookupHash(phone)
	referralCode = strings.ToUpper(strings.TrimSpace(referralCode))

	var account models.Account
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if errCount := tx.Model(&models.Account{}).Where("phone_hash = ?", phoneHash).Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return fmt.Errorf("phone already registered: %w", apperr.ErrConflict)
		}

		code, errCode := allocateReferralCode(tx, phone)
		if errCode != nil {
			return errCode
		}
		now := r.now()
		account = models.Account{
			PhoneHash:      phoneHash,
			PhoneEncrypted: encrypted,
			CredentialHash: security.DeriveKey(secret, salt),
			Salt:           salt,
			WalletBalance:  decimal.Zero,
			ReferralCode:   code,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if errCreate := tx.Create(&account).Error; errCreate != nil {
			return errCreate
		}

		if referralCode != "" {
			r.applyReferral(tx, &account, phone, referralCode)
		}
		return nil
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			return nil, fmt.Errorf("phone already registered: %w", apperr.ErrConflict)
		}
		return nil, errTx
	}

	log.WithField("account_id", account.ID).Infof("account registered for %s", util.MaskPhone(phone))
	events.Emit(ctx, r.publisher, events.New(events.AccountRegistered, account.ID, account.ReferralCode, ""))
	return &account, nil
}

// applyReferral credits the referrer inside a savepoint. Any failure is logged and rolled back
// to the savepoint so registration still commits.
func (r *Registry) applyReferral(tx *gorm.DB, account *models.Account, phone, code string) {
	errReferral := tx.Transaction(func(sp *gorm.DB) error {
		var referrer models.Account
		if errFind := sp.Select("id").Where("referral_code = ?", code).First(&referrer).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("referral code %s: %w", code, apperr.ErrNotFound)
			}
			return errFind
		}
		if referrer.ID == account.ID {
			return apperr.Validation("self referral")
		}
		if _, errCredit := r.book.Credit(sp, referrer.ID, wallet.Entry{
			Kind:        models.TransactionKindReferral,
			Amount:      ReferralBonus,
			Description: fmt.Sprintf("Referral bonus for %s", util.MaskPhone(phone)),
			Reference:   account.ReferralCode,
		}); errCredit != nil {
			return errCredit
		}
		if errUpdate := sp.Model(&models.Account{}).Where("id = ?", account.ID).
			Update("referred_by_id", referrer.ID).Error; errUpdate != nil {
			return errUpdate
		}
		account.ReferredByID = &referrer.ID
		return nil
	})
	if errReferral != nil {
		log.WithError(errReferral).WithField("account_id", account.ID).Warn("referral bonus skipped")
	}
}

// allocateReferralCode derives the code from the phone suffix and appends a random
// suffix when that code is already taken.
func allocateReferralCode(tx *gorm.DB, phone string) (string, error) {
	base := phone
	if len(base) > 6 {
		base = base[len(base)-6:]
	}
	candidate := base
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		var taken int64
		if errCount := tx.Model(&models.Account{}).Where("referral_code = ?", candidate).Count(&taken).Error; errCount != nil {
			return "", errCount
		}
		if taken == 0 {
			return candidate, nil
		}
		suffix, errRand := security.GenerateRandomString(3)
		if errRand != nil {
			return "", errRand
		}
		candidate = base + strings.ToUpper(suffix)
	}
	return "", fmt.Errorf("referral code for %s: %w", util.MaskPhone(phone), apperr.ErrConflict)
}

// Authenticate verifies phone and secret and returns the account id.
func (r *Registry) Authenticate(ctx context.Context, phone, secret string) (uint64, error) {
	phone = NormalizePhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return 0, err
	}
	phoneHash := r.cipher.LookupHash(phone)
	if err := r.limiter.Guard(ctx, phoneHash, ratelimit.Login); err != nil {
		return 0, err
	}

	var account models.Account
	if errFind := r.db.WithContext(ctx).
		Select("id", "credential_hash", "salt").
		Where("phone_hash = ?", phoneHash).
		First(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("account: %w", apperr.ErrNotFound)
		}
		return 0, errFind
	}
	if !security.VerifyCredential(secret, account.Salt, account.CredentialHash) {
		return 0, apperr.ErrInvalidCredential
	}
	return account.ID, nil
}

// Get loads an account by id.
func (r *Registry) Get(ctx context.Context, accountID uint64) (*models.Account, error) {
	var account models.Account
	if errFind := r.db.WithContext(ctx).First(&account, accountID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
		}
		return nil, errFind
	}
	return &account, nil
}

// Phone decrypts the account's phone number for display.
func (r *Registry) Phone(account *models.Account) (string, error) {
	if account == nil {
		return "", apperr.ErrNotFound
	}
	return r.cipher.Decrypt(account.PhoneEncrypted)
}

// List returns accounts newest first.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]models.Account, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var total int64
	if errCount := r.db.WithContext(ctx).Model(&models.Account{}).Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}
	var rows []models.Account
	if errFind := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, 0, errFind
	}
	return rows, total, nil
}

// Delete erases an account and everything it owns.
func (r *Registry) Delete(ctx context.Context, accountID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if errFind := tx.Select("id", "phone_hash").First(&account, accountID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
			}
			return errFind
		}
		owned := []any{
			&models.Transaction{},
			&models.Investment{},
			&models.WithdrawalRequest{},
			&models.PaymentIntent{},
		}
		for _, model := range owned {
			if errDelete := tx.Where("account_id = ?", accountID).Delete(model).Error; errDelete != nil {
				return errDelete
			}
		}
		if errDelete := tx.Where("phone_hash = ?", account.PhoneHash).Delete(&models.OtpChallenge{}).Error; errDelete != nil {
			return errDelete
		}
		if errUpdate := tx.Model(&models.Account{}).Where("referred_by_id = ?", accountID).
			Update("referred_by_id", nil).Error; errUpdate != nil {
			return errUpdate
		}
		if errDelete := tx.Delete(&models.Account{}, accountID).Error; errDelete != nil {
			return errDelete
		}
		log.WithField("account_id", accountID).Warn("account deleted with all owned records")
		return nil
	})
}
