package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-template/internal/domain"
	"auth-template/internal/service"
)

const refreshCookiePath = "/auth"

// CookieConfig describe la cookie HTTP-only que transporta el refresh token.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// AuthHandler expone el núcleo de autenticación por REST.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
	cookie CookieConfig
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	return &AuthHandler{
		logger: logger,
		auth:   auth,
		cookie: cookie,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeAuthError(c, h.logger, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(c, h.logger, "login", err)
		return
	}
	h.writeLoginResult(c, result)
}

// ConfirmEmail maneja POST /auth/confirm.
func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.auth.ConfirmEmail(c.Request.Context(), req.Token)
	if err != nil {
		writeAuthError(c, h.logger, "confirm email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ResendConfirmation maneja POST /auth/confirm/resend.
func (h *AuthHandler) ResendConfirmation(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.auth.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		writeAuthError(c, h.logger, "resend confirmation", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "confirmation_sent"})
}

// VerifyTwoFactor maneja POST /auth/2fa/verify.
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Code   string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.auth.VerifyTwoFactor(c.Request.Context(), req.UserID, strings.TrimSpace(req.Code))
	if err != nil {
		writeAuthError(c, h.logger, "verify two factor", err)
		return
	}
	h.writeLoginResult(c, result)
}

// Refresh maneja POST /auth/refresh. Lee la cookie y acepta refresh_token en JSON
// para clientes sin cookies.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}

	session, err := h.auth.Refresh(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) ||
			errors.Is(err, service.ErrTokenExpired) ||
			errors.Is(err, service.ErrRevoked) {
			h.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": authErrorMessage(err)})
			return
		}
		writeAuthError(c, h.logger, "refresh", err)
		return
	}
	h.setRefreshCookie(c, session)
	c.JSON(http.StatusOK, sessionBody(session))
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if raw := h.refreshTokenFrom(c); raw != "" {
		_ = h.auth.Logout(c.Request.Context(), raw)
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

// LogoutAll maneja POST /auth/logout-all.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	if err := h.auth.LogoutAll(c.Request.Context(), userID); err != nil {
		writeAuthError(c, h.logger, "logout all", err)
		return
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

// ForgotPassword maneja POST /auth/password/forgot. Responde igual exista o no la cuenta.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		writeAuthError(c, h.logger, "forgot password", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reset_requested"})
}

// ResetPassword maneja POST /auth/password/reset.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		writeAuthError(c, h.logger, "reset password", err)
		return
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

// ChangePassword maneja POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(c, h.logger, "change password", err)
		return
	}
	h.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

// Authorize maneja GET /auth/:provider/authorize.
func (h *AuthHandler) Authorize(c *gin.Context) {
	redirectURL, err := h.auth.BeginExternal(c.Request.Context(), c.Param("provider"))
	if err != nil {
		writeAuthError(c, h.logger, "oauth authorize", err)
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

// Callback maneja GET /auth/:provider/callback.
func (h *AuthHandler) Callback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		h.logger.Info("oauth authorization denied",
			zap.String("provider", c.Param("provider")),
			zap.String("reason", denied),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied"})
		return
	}
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state"})
		return
	}

	result, err := h.auth.CompleteExternal(c.Request.Context(), c.Param("provider"), c.Query("code"), state)
	if err != nil {
		writeAuthError(c, h.logger, "oauth callback", err)
		return
	}
	h.writeLoginResult(c, result)
}

func (h *AuthHandler) writeLoginResult(c *gin.Context, result domain.LoginResult) {
	if result.Pending != nil {
		c.JSON(http.StatusAccepted, gin.H{
			"status":     "two_factor_required",
			"user_id":    result.Pending.UserID,
			"expires_at": result.Pending.ExpiresAt,
		})
		return
	}
	if result.Session == nil {
		h.logger.Error("login result without session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.setRefreshCookie(c, *result.Session)
	body := sessionBody(*result.Session)
	body["user"] = result.User
	c.JSON(http.StatusOK, body)
}

func sessionBody(session domain.Session) gin.H {
	return gin.H{
		"access_token": session.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   session.ExpiresIn,
	}
}

func (h *AuthHandler) refreshTokenFrom(c *gin.Context) string {
	if raw, err := c.Cookie(h.cookie.Name); err == nil && raw != "" {
		return raw
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err == nil {
			return strings.TrimSpace(req.RefreshToken)
		}
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, session domain.Session) {
	maxAge := int(h.cookie.MaxAge.Seconds())
	if !session.RefreshExpiresAt.IsZero() {
		maxAge = int(time.Until(session.RefreshExpiresAt).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, session.RefreshToken, maxAge, refreshCookiePath, "", h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, refreshCookiePath, "", h.cookie.Secure, true)
}

// writeAuthError traduce los errores del núcleo a códigos HTTP en un solo lugar.
func writeAuthError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := authErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn(op+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": authErrorMessage(err)})
}

func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailNotConfirmed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrAttemptsExhausted),
		errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrEmailDispatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// authErrorMessage devuelve el texto público. Los errores de validación incluyen el
// detalle; el resto sólo el sentinel.
func authErrorMessage(err error) string {
	sentinels := []error{
		service.ErrInvalidCredentials,
		service.ErrEmailTaken,
		service.ErrInvalidToken,
		service.ErrTokenExpired,
		service.ErrRevoked,
		service.ErrAttemptsExhausted,
		service.ErrInvalidCode,
		service.ErrProviderError,
		service.ErrUnknownProvider,
		service.ErrInvalidState,
		service.ErrEmailDispatch,
		service.ErrEmailNotConfirmed,
		service.ErrConflict,
		service.ErrNotFound,
		service.ErrRateLimited,
	}
	if errors.Is(err, service.ErrInvalidInput) {
		return err.Error()
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}
