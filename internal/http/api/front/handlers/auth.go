package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/settings"
)

// AuthHandler handles investor signup and login.
type AuthHandler struct {
	svc api.Services
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc api.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// RequestOtp sends a fresh one-time code to the phone.
func (h *AuthHandler) RequestOtp(c *gin.Context) {
	var body otpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSend := h.svc.Accounts.RequestOtp(c.Request.Context(), body.Phone); errSend != nil {
		api.WriteError(c, errSend)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// VerifyOtp checks a one-time code without creating an account.
func (h *AuthHandler) VerifyOtp(c *gin.Context) {
	var body otpRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	if errVerify := h.svc.Accounts.VerifyOtp(c.Request.Context(), body.Phone, strings.TrimSpace(body.Code)); errVerify != nil {
		api.WriteError(c, errVerify)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

type registerRequest struct {
	Phone        string `json:"phone"`
	Otp          string `json:"otp"`
	Secret       string `json:"secret"`
	ReferralCode string `json:"referral_code"`
}

// Register verifies the phone's OTP, creates the account and returns a session token.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	otp := strings.TrimSpace(body.Otp)
	if otp == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing otp"})
		return
	}
	ctx := c.Request.Context()
	if errVerify := h.svc.Accounts.VerifyOtp(ctx, body.Phone, otp); errVerify != nil {
		api.WriteError(c, errVerify)
		return
	}
	account, errRegister := h.svc.Accounts.Register(ctx, body.Phone, body.Secret, strings.TrimSpace(body.ReferralCode))
	if errRegister != nil {
		api.WriteError(c, errRegister)
		return
	}
	token, errToken := security.GenerateToken(h.svc.JWT.Secret, account.ID, account.ReferralCode, h.svc.JWT.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":   token,
		"account": api.NewAccountView(account, ""),
	})
}

type loginRequest struct {
	Phone  string `json:"phone"`
	Secret string `json:"secret"`
}

// Login authenticates phone and secret and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Phone) == "" || strings.TrimSpace(body.Secret) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing phone or secret"})
		return
	}
	ctx := c.Request.Context()
	accountID, errAuth := h.svc.Accounts.Authenticate(ctx, body.Phone, body.Secret)
	if errAuth != nil {
		api.WriteError(c, errAuth)
		return
	}
	account, errFind := h.svc.Accounts.Get(ctx, accountID)
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	token, errToken := security.GenerateToken(h.svc.JWT.Secret, account.ID, account.ReferralCode, h.svc.JWT.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.svc.JWT.Expiry.Seconds()),
		"account":    api.NewAccountView(account, ""),
	})
}

// GetPublicConfig exposes the settings a signed-out client needs.
func GetPublicConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"site_name": settings.StringValue(settings.SiteNameKey, settings.DefaultSiteName),
	})
}
