package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-template/internal/service"
)

// UserHandler mantiene dependencias para endpoints de usuarios autenticados.
type UserHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

// NewUserHandler crea una instancia de UserHandler con dependencias necesarias.
func NewUserHandler(logger *zap.Logger, auth *service.AuthService) *UserHandler {
	return &UserHandler{
		logger: logger,
		auth:   auth,
	}
}

// Me maneja GET /users/me.
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	user, err := h.auth.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		writeAuthError(c, h.logger, "current user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// SetTwoFactor maneja PUT /users/me/two-factor.
func (h *UserHandler) SetTwoFactor(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid two factor request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	user, err := h.auth.SetTwoFactor(c.Request.Context(), userID, *req.Enabled)
	if err != nil {
		writeAuthError(c, h.logger, "set two factor", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
