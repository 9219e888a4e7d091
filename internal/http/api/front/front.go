package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/chat"
	"github.com/sitesmith-dev/sitesmith/internal/config"
	relayhttp "github.com/sitesmith-dev/sitesmith/internal/http"
	"github.com/sitesmith-dev/sitesmith/internal/http/api/front/handlers"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"github.com/sitesmith-dev/sitesmith/internal/payments"
	"github.com/sitesmith-dev/sitesmith/internal/security"
	"github.com/sitesmith-dev/sitesmith/internal/tokens"
	"gorm.io/gorm"
)

// Deps bundles the services the front routes depend on.
type Deps struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	TokenEngine *tokens.Engine
	Chat        *chat.Service
	Payments    *payments.Service
	RateLimiter *relayhttp.RateLimiter
}

// RegisterFrontRoutes registers public and authenticated front-end routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT)
	front.POST("/register", authHandler.Register)
	front.POST("/login", authHandler.Login)
	front.POST("/login/totp", authHandler.LoginTOTP)
	front.POST("/reset-password", authHandler.ResetPassword)
	front.GET("/config", handlers.GetPublicConfig)

	billingHandler := handlers.NewBillingHandler(deps.Payments)
	front.POST("/billing/webhook", billingHandler.Webhook)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.JWT))

	profileHandler := handlers.NewProfileHandler(deps.DB)
	authed.GET("/profile", profileHandler.Get)
	authed.PUT("/profile/password", profileHandler.ChangePassword)

	mfaHandler := handlers.NewMFAHandler(deps.DB)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	tokensHandler := handlers.NewTokensHandler(deps.DB, deps.TokenEngine)
	authed.GET("/tokens/balance", tokensHandler.Balance)
	authed.GET("/tokens/transactions", tokensHandler.Transactions)

	chatHandler := handlers.NewChatHandler(deps.DB, deps.Chat)
	authed.GET("/chat/models", chatHandler.Models)
	authed.GET("/chat/conversations", chatHandler.Conversations)
	authed.GET("/chat/conversations/:id", chatHandler.Conversation)
	authed.POST("/chat/send", deps.RateLimiter.Middleware("chat"), chatHandler.Send)

	authed.GET("/billing/packs", billingHandler.Packs)
	authed.POST("/billing/checkout", billingHandler.CreateCheckout)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
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

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("user", &user)
		c.Next()
	}
}
