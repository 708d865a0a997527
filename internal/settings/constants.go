package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the product name shown to payers.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback product name.
	DefaultSiteName = "InvestKar"
	// UPIPayeeIDKey is the UPI virtual payment address that receives deposits and fees.
	UPIPayeeIDKey = "UPI_PAYEE_ID"
	// UPIPayeeNameKey is the payee name embedded in payment links.
	UPIPayeeNameKey = "UPI_PAYEE_NAME"
	// PaymentPollIntervalSecondsKey controls how often a watcher reconciles an open intent.
	PaymentPollIntervalSecondsKey = "PAYMENT_POLL_INTERVAL_SECONDS"
	// PaymentTimeoutSecondsKey controls how long an intent may stay pending.
	PaymentTimeoutSecondsKey = "PAYMENT_TIMEOUT_SECONDS"
	// PaymentSweepIntervalSecondsKey controls the stale intent sweep cadence.
	PaymentSweepIntervalSecondsKey = "PAYMENT_SWEEP_INTERVAL_SECONDS"
	// DefaultPaymentPollIntervalSeconds is the fallback watcher cadence (seconds).
	DefaultPaymentPollIntervalSeconds = 10
	// DefaultPaymentTimeoutSeconds is the fallback intent deadline (seconds).
	DefaultPaymentTimeoutSeconds = 300
	// DefaultPaymentSweepIntervalSeconds is the fallback sweep cadence (seconds).
	DefaultPaymentSweepIntervalSeconds = 60
)

// EditableKeys lists the DB config keys operators may change at runtime.
var EditableKeys = []string{
	SiteNameKey,
	UPIPayeeIDKey,
	UPIPayeeNameKey,
	PaymentPollIntervalSecondsKey,
	PaymentTimeoutSecondsKey,
	PaymentSweepIntervalSecondsKey,
}
