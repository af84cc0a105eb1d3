package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuongbtq/marketsync/internal/api/dto"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// CronHandler is the HTTP trigger for external schedulers
type CronHandler struct {
	logger *slog.Logger
	tasks  TaskService
	token  string
}

// NewCronHandler creates a new CronHandler instance
func NewCronHandler(deps *Dependencies) *CronHandler {
	return &CronHandler{logger: deps.Logger, tasks: deps.Tasks, token: deps.CronToken}
}

// Run handles GET|POST /cron?action=&limit=&token=
func (h *CronHandler) Run(c *gin.Context) {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.token)) != 1 {
		h.logger.Warn("Cron request rejected", slog.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, dto.CronResponse{Success: false, Message: "Unauthorized"})
		return
	}

	action := c.Query("action")
	tasks, ok := scheduler.ActionTasks(action)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.CronResponse{Success: false, Message: fmt.Sprintf("Unknown action %q", action)})
		return
	}

	var opts []scheduler.RunOption
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, dto.CronResponse{Success: false, Message: "limit must be a positive integer"})
			return
		}
		opts = append(opts, scheduler.WithParam("batch_size", limit), scheduler.WithParam("limit", limit))
	}

	total := 0
	var failures []string
	status := http.StatusOK
	for _, name := range tasks {
		result, err := h.tasks.RunTask(c.Request.Context(), name, opts...)
		total += result.JobsEnqueued
		if err == nil {
			continue
		}

		failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		switch {
		case errors.Is(err, domain.ErrTaskLocked):
			status = max(status, http.StatusConflict)
		case errors.Is(err, domain.ErrTaskNotFound):
			status = max(status, http.StatusNotFound)
		default:
			status = http.StatusInternalServerError
		}
	}

	h.logger.Info("Cron action finished",
		slog.String("action", action),
		slog.Int("jobs_enqueued", total),
		slog.Int("failures", len(failures)),
	)

	if len(failures) > 0 {
		c.JSON(status, dto.CronResponse{Success: false, Message: strings.Join(failures, "; "), JobsEnqueued: total})
		return
	}
	c.JSON(http.StatusOK, dto.CronResponse{
		Success:      true,
		Message:      fmt.Sprintf("%s finished, %d jobs enqueued", action, total),
		JobsEnqueued: total,
	})
}
