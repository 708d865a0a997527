package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ledger metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"method", "route"})

	WalletPostingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_wallet_postings_total",
		Help: "Wallet postings by transaction kind and outcome",
	}, []string{"kind", "outcome"})

	AccrualRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_accrual_runs_total",
		Help: "Daily accrual runs by outcome (executed, skipped, failed)",
	}, []string{"outcome"})

	AccrualCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_accrual_credited_investments_total",
		Help: "Investments credited by daily accrual",
	})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payment_intents_total",
		Help: "Payment intent transitions by kind and resulting status",
	}, []string{"kind", "status"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"policy"})

	SMSSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sms_send_total",
		Help: "OTP SMS deliveries by outcome",
	}, []string{"outcome"})
)
