package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/marketsync/internal/api/dto"
	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/signature"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultReplayWindow is how long a delivered event id is remembered
	DefaultReplayWindow = 10 * time.Minute

	maxWebhookBody = 1 << 20
)

// WebhookHandler accepts signed marketplace webhooks
type WebhookHandler struct {
	logger    *slog.Logger
	jobs      JobService
	records   WebhookRecorder
	secrets   map[string]string
	tolerance time.Duration
	seen      *cache.Cache
	now       func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	tolerance := deps.WebhookTolerance
	if tolerance <= 0 {
		tolerance = signature.DefaultTolerance
	}
	window := deps.ReplayWindow
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &WebhookHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		records:   deps.Webhooks,
		secrets:   deps.WebhookSecrets,
		tolerance: tolerance,
		seen:      cache.New(window, 2*window),
		now:       deps.now,
	}
}

// Receive handles POST /webhooks/:marketplace
func (h *WebhookHandler) Receive(c *gin.Context) {
	mkt := c.Param("marketplace")
	logger := h.logger.With(slog.String("marketplace", mkt))

	secret, ok := h.secrets[mkt]
	if !ok || secret == "" {
		c.JSON(http.StatusNotFound, dto.WebhookResponse{Success: false, Message: "Unknown marketplace"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, dto.WebhookResponse{Success: false, Message: "Body too large"})
		return
	}

	err = signature.Verify(secret,
		c.GetHeader(signature.HeaderSignature),
		c.GetHeader(signature.HeaderTimestamp),
		body, h.now(), h.tolerance)
	if err != nil {
		logger.Warn("Webhook signature rejected", slog.String("error", err.Error()))
		h.record(c, domain.WebhookLog{Marketplace: mkt, Status: domain.WebhookRejected, Payload: string(body)}, err)
		c.JSON(http.StatusUnauthorized, dto.WebhookResponse{Success: false, Message: "Invalid signature"})
		return
	}

	var event dto.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		if err == nil {
			err = errors.New("event_type is required")
		}
		h.record(c, domain.WebhookLog{Marketplace: mkt, Status: domain.WebhookFailed, Payload: string(body)}, err)
		c.JSON(http.StatusBadRequest, dto.WebhookResponse{Success: false, Message: "Invalid event body"})
		return
	}

	entry := domain.WebhookLog{Marketplace: mkt, EventType: event.EventType, EventID: event.EventID, Payload: string(body)}
	replayKey := mkt + ":" + event.EventID
	if event.EventID != "" {
		if err := h.seen.Add(replayKey, struct{}{}, cache.DefaultExpiration); err != nil {
			logger.Info("Duplicate webhook acknowledged", slog.String("event_id", event.EventID))
			c.JSON(http.StatusOK, dto.WebhookResponse{Success: true, Duplicate: true})
			return
		}
	}

	jobID, err := h.jobs.Enqueue(c.Request.Context(), domain.JobTypeWebhookEvent, mkt, domain.WebhookEventPayload{
		EventType: event.EventType,
		EventID:   event.EventID,
		Data:      event.Data,
	}, domain.PriorityHigh)
	if err != nil {
		h.seen.Delete(replayKey)
		logger.Error("Failed to enqueue webhook event", slog.String("error", err.Error()))
		entry.Status = domain.WebhookFailed
		h.record(c, entry, err)
		c.JSON(http.StatusInternalServerError, dto.WebhookResponse{Success: false, Message: "Failed to enqueue event"})
		return
	}

	entry.Status = domain.WebhookProcessed
	h.record(c, entry, nil)
	logger.Info("Webhook accepted",
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.EventID),
		slog.String("job_id", jobID),
	)
	c.JSON(http.StatusAccepted, dto.WebhookResponse{Success: true, JobID: jobID})
}

func (h *WebhookHandler) record(c *gin.Context, entry domain.WebhookLog, cause error) {
	if h.records == nil {
		return
	}
	entry.CreatedAt = h.now()
	if cause != nil {
		msg := cause.Error()
		entry.Error = &msg
	}
	if err := h.records.RecordWebhook(c.Request.Context(), entry); err != nil {
		h.logger.Error("Failed to record webhook", slog.String("error", err.Error()))
	}
}
