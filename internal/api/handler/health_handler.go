package handler

import (
	"net/http"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/gin-gonic/gin"
)

// HealthHandler serves the cached health report
type HealthHandler struct {
	health HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{health: deps.Health}
}

// Health handles GET /health. Critical reports answer 503.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())

	status := http.StatusOK
	if report.Status == domain.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
