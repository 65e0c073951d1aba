package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-template/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	authSvc *service.AuthService,
	authH *AuthHandler,
	userH *UserHandler,
	healthH *HealthHandler,
	limiter service.RateLimiter,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/health", healthH.Health)

	limited := RateLimitMiddleware(limiter)
	requireAuth := JWTAuthMiddleware(authSvc)

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", limited, authH.Login)
	auth.POST("/confirm", authH.ConfirmEmail)
	auth.POST("/confirm/resend", limited, authH.ResendConfirmation)
	auth.POST("/2fa/verify", limited, authH.VerifyTwoFactor)
	auth.POST("/refresh", authH.Refresh)
	auth.POST("/logout", authH.Logout)
	auth.POST("/logout-all", requireAuth, authH.LogoutAll)
	auth.POST("/password/forgot", limited, authH.ForgotPassword)
	auth.POST("/password/reset", authH.ResetPassword)
	auth.POST("/password/change", requireAuth, authH.ChangePassword)
	auth.GET("/:provider/authorize", authH.Authorize)
	auth.GET("/:provider/callback", authH.Callback)

	users := r.Group("/users", requireAuth)
	users.GET("/me", userH.Me)
	users.PUT("/me/two-factor", userH.SetTwoFactor)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
