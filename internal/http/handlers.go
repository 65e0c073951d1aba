package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck comprueba una dependencia externa.
type HealthCheck func(ctx context.Context) error

// HealthHandler responde GET /health.
type HealthHandler struct {
	logger *zap.Logger
	checks map[string]HealthCheck
}

// NewHealthHandler crea una instancia de HealthHandler con las comprobaciones dadas.
func NewHealthHandler(logger *zap.Logger, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{logger: logger, checks: checks}
}

// Health maneja GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}
	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
