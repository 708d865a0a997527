package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/config"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/security"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
	cipher *security.FieldCipher
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig, cipher *security.FieldCipher) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg, cipher: cipher}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// Login authenticates an admin and issues a JWT if MFA is not required.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	admin, ok := h.checkPassword(c, body)
	if !ok {
		return
	}
	if strings.TrimSpace(admin.TOTPSecret) != "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "mfa required"})
		return
	}
	h.respondWithAdminToken(c, admin)
}

// LoginTOTP authenticates an admin with password and TOTP code.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	admin, ok := h.checkPassword(c, body)
	if !ok {
		return
	}
	secret, errSecret := openTOTPSecret(h.cipher, admin.TOTPSecret)
	if errSecret != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "totp secret unreadable"})
		return
	}
	if secret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "totp not enabled"})
		return
	}
	if !totp.Validate(code, secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}
	h.respondWithAdminToken(c, admin)
}

// checkPassword verifies the admin's password. It writes the error response itself and
// reports false on failure.
func (h *AuthHandler) checkPassword(c *gin.Context, body loginRequest) (models.Admin, bool) {
	username := strings.TrimSpace(body.Username)
	password := strings.TrimSpace(body.Password)
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return models.Admin{}, false
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return models.Admin{}, false
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
		return models.Admin{}, false
	}
	if !security.CheckPassword(admin.Password, password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return models.Admin{}, false
	}
	return admin, true
}

// respondWithAdminToken generates a JWT and responds with admin info.
func (h *AuthHandler) respondWithAdminToken(c *gin.Context, admin models.Admin) {
	token, errToken := security.GenerateAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"admin": gin.H{
			"id":           admin.ID,
			"username":     admin.Username,
			"totp_enabled": strings.TrimSpace(admin.TOTPSecret) != "",
		},
	})
}
