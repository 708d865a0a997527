package front

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/http/api/front/handlers"
	"github.com/investkar/ledger/internal/security"
)

// RegisterFrontRoutes registers public and authenticated investor routes.
func RegisterFrontRoutes(r *gin.Engine, svc api.Services) {
	if r == nil || svc.DB == nil || svc.Accounts == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(svc)
	front.POST("/otp/request", authHandler.RequestOtp)
	front.POST("/otp/verify", authHandler.VerifyOtp)
	front.POST("/register", authHandler.Register)
	front.POST("/login", authHandler.Login)
	front.GET("/config", handlers.GetPublicConfig)

	planHandler := handlers.NewPlanHandler()
	front.GET("/plans", planHandler.List)

	authed := front.Group("")
	authed.Use(accountAuthMiddleware(svc))

	profileHandler := handlers.NewProfileHandler(svc)
	authed.GET("/profile", profileHandler.Get)
	authed.GET("/wallet", profileHandler.Wallet)
	authed.GET("/transactions", profileHandler.Transactions)

	investmentHandler := handlers.NewInvestmentHandler(svc)
	authed.GET("/investments", investmentHandler.List)
	authed.GET("/investments/active", investmentHandler.Active)
	authed.POST("/investments/checkout", investmentHandler.Checkout)

	paymentHandler := handlers.NewPaymentHandler(svc)
	authed.GET("/payments", paymentHandler.List)
	authed.GET("/payments/:transaction_id", paymentHandler.Status)

	withdrawalHandler := handlers.NewWithdrawalHandler(svc)
	authed.POST("/withdrawals", withdrawalHandler.Create)
	authed.GET("/withdrawals", withdrawalHandler.List)
	authed.POST("/withdrawals/:id/fee-checkout", withdrawalHandler.FeeCheckout)
}

// accountAuthMiddleware validates account JWTs and loads the account id into context.
func accountAuthMiddleware(svc api.Services) gin.HandlerFunc {
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

		claims, errJWT := security.ParseToken(svc.JWT.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		account, errFind := svc.Accounts.Get(c.Request.Context(), claims.AccountID)
		if errFind != nil {
			if errors.Is(errFind, apperr.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
				return
			}
			api.WriteError(c, errFind)
			c.Abort()
			return
		}

		c.Set("accountID", account.ID)
		c.Next()
	}
}
