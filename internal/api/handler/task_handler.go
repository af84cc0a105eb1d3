package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/gin-gonic/gin"
)

// TaskHandler exposes scheduled tasks
type TaskHandler struct {
	logger *slog.Logger
	tasks  TaskService
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{logger: deps.Logger, tasks: deps.Tasks}
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.Tasks(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list tasks", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// RunTask handles POST /api/v1/tasks/:name/run
func (h *TaskHandler) RunTask(c *gin.Context) {
	name := c.Param("name")

	result, err := h.tasks.RunTask(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, domain.ErrTaskLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Manual task run failed", slog.String("task", name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
	}
}

// TaskStats handles GET /api/v1/tasks/:name/stats
func (h *TaskHandler) TaskStats(c *gin.Context) {
	name := c.Param("name")

	stats, err := h.tasks.TaskStats(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
			return
		}
		h.logger.Error("Failed to load task stats", slog.String("task", name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": name, "stats": stats})
}
