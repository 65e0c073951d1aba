package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"auth-template/internal/service"
)

const authClaimsKey = "auth_claims"

// JWTAuthMiddleware valida access tokens y guarda las claims en el contexto.
func JWTAuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		token := strings.TrimSpace(header[len("Bearer "):])
		claims, err := auth.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.VerifiedToken, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.VerifiedToken{}, false
	}
	claims, ok := val.(service.VerifiedToken)
	return claims, ok
}

// GetAuthUserID devuelve el subject del access token validado.
func GetAuthUserID(c *gin.Context) (string, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// RateLimitMiddleware limita por IP y ruta; el 429 lleva Retry-After en segundos.
func RateLimitMiddleware(limiter service.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		allowed, retryAfter := limiter.Allow(c.Request.Context(), c.ClientIP()+":"+path)
		if !allowed {
			c.Header("Retry-After", retryAfterSeconds(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": service.ErrRateLimited.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
