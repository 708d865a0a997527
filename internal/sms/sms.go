package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/metrics"
	"github.com/investkar/ledger/internal/util"
	log "github.com/sirupsen/logrus"
)

// Sender delivers OTP messages. Implementations wrap delivery failures with apperr.ErrTransport.
type Sender interface {
	SendOtp(ctx context.Context, phone, otp, securityCode string) error
}

const (
	defaultFast2SMSURL = "https://www.fast2sms.com/dev/bulkV2"
	defaultTimeout     = 10 * time.Second
)

// Fast2SMSConfig configures the Fast2SMS sender.
type Fast2SMSConfig struct {
	APIKey   string
	SenderID string
	BaseURL  string
	Timeout  time.Duration
}

// Fast2SMS sends OTPs through the Fast2SMS bulk API.
type Fast2SMS struct {
	cfg    Fast2SMSConfig
	client *http.Client
}

// NewFast2SMS builds a Fast2SMS sender.
func NewFast2SMS(cfg Fast2SMSConfig) *Fast2SMS {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultFast2SMSURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fast2SMS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type fast2smsRequest struct {
	SenderID string `json:"sender_id,omitempty"`
	Message  string `json:"message"`
	Route    string `json:"route"`
	Numbers  string `json:"numbers"`
}

type fast2smsResponse struct {
	Return    bool            `json:"return"`
	RequestID string          `json:"request_id"`
	Message   json.RawMessage `json:"message"`
}

// SendOtp implements Sender.
func (s *Fast2SMS) SendOtp(ctx context.Context, phone, otp, securityCode string) error {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		metrics.SMSSendTotal.WithLabelValues("unconfigured").Inc()
		return fmt.Errorf("sms: api key not configured: %w", apperr.ErrTransport)
	}
	payload, err := json.Marshal(fast2smsRequest{
		SenderID: s.cfg.SenderID,
		Message:  FormatOtpMessage(otp, securityCode),
		Route:    "v3",
		Numbers:  phone,
	})
	if err != nil {
		return fmt.Errorf("sms: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("authorization", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.SMSSendTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("sms: send: %v: %w", err, apperr.ErrTransport)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var result fast2smsResponse
	if errDecode := json.Unmarshal(body, &result); errDecode != nil {
		metrics.SMSSendTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("sms: status %d, undecodable response: %w", resp.StatusCode, apperr.ErrTransport)
	}
	if resp.StatusCode >= http.StatusBadRequest || !result.Return {
		metrics.SMSSendTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("sms: provider rejected (status %d): %s: %w", resp.StatusCode, strings.Trim(string(result.Message), `"`), apperr.ErrTransport)
	}
	metrics.SMSSendTotal.WithLabelValues("sent").Inc()
	log.WithField("request_id", result.RequestID).Infof("sms: otp sent to %s", util.MaskPhone(phone))
	return nil
}

// FormatOtpMessage renders the OTP text message.
func FormatOtpMessage(otp, securityCode string) string {
	return fmt.Sprintf("Your Invest karo verification code is %s. Security Code: %s. Do not share with anyone.", otp, securityCode)
}

// LogSender only logs the OTP. It is used when no SMS provider is configured.
type LogSender struct{}

// SendOtp implements Sender.
func (LogSender) SendOtp(_ context.Context, phone, otp, securityCode string) error {
	metrics.SMSSendTotal.WithLabelValues("logged").Inc()
	log.WithFields(log.Fields{
		"phone":         util.MaskPhone(phone),
		"otp":           otp,
		"security_code": securityCode,
	}).Warn("sms: demo sender, otp not delivered")
	return nil
}
