package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/http/api/admin/handlers"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers operator routes and the health check.
func RegisterAdminRoutes(r *gin.Engine, svc api.Services) {
	if r == nil || svc.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(svc.DB, svc.Ledger)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(svc.DB, svc.JWT, svc.Cipher)
	adminGroup.POST("/login", authHandler.Login)
	adminGroup.POST("/login/totp", authHandler.LoginTOTP)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(svc.DB, svc.JWT.Secret))

	mfaHandler := handlers.NewMFAHandler(svc.DB, svc.Cipher)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	dashboardHandler := handlers.NewDashboardHandler(svc.DB)
	authed.GET("/stats", dashboardHandler.Stats)

	accountHandler := handlers.NewAccountHandler(svc)
	authed.GET("/accounts", accountHandler.List)
	authed.GET("/accounts/:id", accountHandler.Get)
	authed.POST("/accounts/:id/adjust", accountHandler.Adjust)
	authed.DELETE("/accounts/:id", accountHandler.Delete)
	authed.GET("/transactions", accountHandler.Transactions)

	investmentHandler := handlers.NewInvestmentHandler(svc)
	authed.GET("/investments", investmentHandler.List)
	authed.POST("/accrual/run", investmentHandler.RunAccrual)
	authed.GET("/accrual/last", investmentHandler.LastRun)

	withdrawalHandler := handlers.NewWithdrawalHandler(svc)
	authed.GET("/withdrawals/pending", withdrawalHandler.Pending)
	authed.POST("/withdrawals/:id/approve", withdrawalHandler.Approve)
	authed.POST("/withdrawals/:id/cancel", withdrawalHandler.Cancel)

	paymentHandler := handlers.NewPaymentHandler(svc)
	authed.GET("/payments", paymentHandler.List)
	authed.POST("/payments/:transaction_id/verify", paymentHandler.Verify)
	authed.POST("/payments/:transaction_id/reconcile", paymentHandler.Reconcile)

	settingsHandler := handlers.NewSettingsHandler(svc.DB)
	authed.GET("/settings", settingsHandler.List)
	authed.PUT("/settings/:key", settingsHandler.Update)
}

// adminAuthMiddleware validates admin JWTs and rejects disabled operators.
func adminAuthMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).Select("id", "active").First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Next()
	}
}
