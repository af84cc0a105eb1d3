package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// AlertHandler lists alert rules and events
type AlertHandler struct {
	logger *slog.Logger
	alerts AlertStore
}

// NewAlertHandler creates a new AlertHandler instance
func NewAlertHandler(deps *Dependencies) *AlertHandler {
	return &AlertHandler{logger: deps.Logger, alerts: deps.Alerts}
}

// ListRules handles GET /api/v1/alerts/rules
func (h *AlertHandler) ListRules(c *gin.Context) {
	rules, err := h.alerts.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list alert rules", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alert rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// ListEvents handles GET /api/v1/alerts/events?limit=
func (h *AlertHandler) ListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.alerts.ListEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list alert events", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alert events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
