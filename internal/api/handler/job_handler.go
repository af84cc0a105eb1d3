package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/marketsync/internal/api/dto"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := domain.JobFilter{
		Type:        domain.JobType(req.Type),
		Status:      domain.JobStatus(req.Status),
		Marketplace: req.Marketplace,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// the store returns one row past the page when more results exist
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(job)
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&domain.JobCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Requeues a failed job immediately
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.jobs.Retry(c.Request.Context(), jobID)
	switch {
	case err == nil:
		h.logger.Info("Job requeued", slog.String("job_id", jobID))
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": domain.JobStatusPending})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrMaxRetriesExceeded), errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to retry job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry job"})
	}
}

// QueueStats handles GET /api/v1/queue/stats
func (h *JobHandler) QueueStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      stats,
		"error_rate": stats.ErrorRate(),
		"depth":      stats.Depth(),
	})
}
