// Package handler implements the job handlers registered with the worker,
// one per job type.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/cuongbtq/marketsync/internal/marketplace"
	"github.com/cuongbtq/marketsync/internal/notify"
	"github.com/cuongbtq/marketsync/internal/worker"
)

// Catalog is the local product and order state the handlers update
type Catalog interface {
	GetProduct(ctx context.Context, marketplace, productID string) (*domain.ProductSyncState, error)
	MarkProductSynced(ctx context.Context, marketplace, productID string, now time.Time) error
	MarkStockSynced(ctx context.Context, marketplace string, stock map[string]int, now time.Time) error
	MarkPriceSynced(ctx context.Context, marketplace, productID string, price float64, now time.Time) error
	UpsertOrders(ctx context.Context, orders []domain.Order) (int, error)
}

// Sender delivers a notification and returns the channels that accepted it
type Sender interface {
	Send(ctx context.Context, channels []string, n notify.Notification) []string
}

// Handlers holds the dependencies shared by every handler
type Handlers struct {
	registry        *marketplace.Registry
	catalog         Catalog
	sender          Sender
	defaultChannels []string
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures Handlers
type Option func(*Handlers)

// WithSender enables send_alert jobs. Alerts without channels go to defaults.
func WithSender(s Sender, defaults ...string) Option {
	return func(h *Handlers) {
		h.sender = s
		h.defaultChannels = defaults
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// New creates the handler set
func New(registry *marketplace.Registry, catalog Catalog, logger *slog.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		registry: registry,
		catalog:  catalog,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterAll installs every handler on w
func (h *Handlers) RegisterAll(w *worker.Worker) {
	w.Register(domain.JobTypeProductSync, worker.HandlerFunc(h.ProductSync))
	w.Register(domain.JobTypeOrderSync, worker.HandlerFunc(h.OrderSync))
	w.Register(domain.JobTypeStockUpdate, &stockHandler{h: h})
	w.Register(domain.JobTypePriceUpdate, worker.HandlerFunc(h.PriceUpdate))
	w.Register(domain.JobTypeWebhookEvent, worker.HandlerFunc(h.WebhookEvent))
	if h.sender != nil {
		w.Register(domain.JobTypeSendAlert, worker.HandlerFunc(h.SendAlert))
	}
}

func decode[T domain.Payload](job *domain.Job) (T, error) {
	var zero T
	p, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected payload %T for %s", domain.ErrInvalidPayload, p, job.Type)
	}
	return typed, nil
}

func (h *Handlers) adapter(job *domain.Job) (marketplace.Adapter, error) {
	return h.registry.Get(job.Marketplace)
}

// ProductSync pushes the local state of one product
func (h *Handlers) ProductSync(ctx context.Context, job *domain.Job) error {
	payload, err := decode[*domain.ProductSyncPayload](job)
	if err != nil {
		return err
	}
	a, err := h.adapter(job)
	if err != nil {
		return err
	}

	state, err := h.catalog.GetProduct(ctx, job.Marketplace, payload.ProductID)
	if err != nil {
		return err
	}
	product := marketplace.Product{
		ID:    state.ProductID,
		Price: state.LocalPrice,
		Stock: state.LocalStock,
	}
	if err := a.PushProduct(ctx, product); err != nil {
		return fmt.Errorf("failed to push product %s: %w", payload.ProductID, err)
	}
	return h.catalog.MarkProductSynced(ctx, job.Marketplace, payload.ProductID, h.now())
}

// OrderSync imports the orders created inside the payload range
func (h *Handlers) OrderSync(ctx context.Context, job *domain.Job) error {
	payload, err := decode[*domain.OrderSyncPayload](job)
	if err != nil {
		return err
	}
	a, err := h.adapter(job)
	if err != nil {
		return err
	}

	remote, err := a.GetOrders(ctx, marketplace.OrderQuery{
		Since: payload.Since,
		Until: payload.Until,
		Limit: payload.Limit,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(remote))
	for _, o := range remote {
		orders = append(orders, toDomainOrder(job.Marketplace, o))
	}
	created, err := h.catalog.UpsertOrders(ctx, orders)
	if err != nil {
		return err
	}

	h.logger.Info("Orders imported",
		slog.String("marketplace", job.Marketplace),
		slog.Int("fetched", len(orders)),
		slog.Int("new", created),
	)
	return nil
}

func toDomainOrder(mkt string, o marketplace.Order) domain.Order {
	return domain.Order{
		Marketplace: mkt,
		ExternalID:  o.ExternalID,
		Status:      o.Status,
		Total:       o.Total,
		CreatedAt:   o.CreatedAt,
	}
}

// StockUpdate sets the remote quantity of one product
func (h *Handlers) StockUpdate(ctx context.Context, job *domain.Job) error {
	payload, err := decode[*domain.StockUpdatePayload](job)
	if err != nil {
		return err
	}
	a, err := h.adapter(job)
	if err != nil {
		return err
	}
	if err := a.UpdateStock(ctx, payload.ProductID, payload.Quantity); err != nil {
		return fmt.Errorf("failed to update stock of %s: %w", payload.ProductID, err)
	}
	return h.catalog.MarkStockSynced(ctx, job.Marketplace, map[string]int{payload.ProductID: payload.Quantity}, h.now())
}

// StockUpdateBatch sends every member in one bulk inventory call
func (h *Handlers) StockUpdateBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	a, err := h.adapter(jobs[0])
	if err != nil {
		return err
	}

	items := make([]marketplace.InventoryItem, 0, len(jobs))
	stock := make(map[string]int, len(jobs))
	for _, job := range jobs {
		payload, err := decode[*domain.StockUpdatePayload](job)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		items = append(items, marketplace.InventoryItem{ProductID: payload.ProductID, Quantity: payload.Quantity})
		stock[payload.ProductID] = payload.Quantity
	}

	result, err := a.UpdateInventoryBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("failed to update inventory batch: %w", err)
	}
	if result != nil && result.Accepted < len(items) {
		return fmt.Errorf("marketplace accepted %d of %d inventory items", result.Accepted, len(items))
	}
	return h.catalog.MarkStockSynced(ctx, jobs[0].Marketplace, stock, h.now())
}

type stockHandler struct {
	h *Handlers
}

func (s *stockHandler) Execute(ctx context.Context, job *domain.Job) error {
	return s.h.StockUpdate(ctx, job)
}

func (s *stockHandler) ExecuteBatch(ctx context.Context, jobs []*domain.Job) error {
	return s.h.StockUpdateBatch(ctx, jobs)
}

// PriceUpdate sets the remote price of one product
func (h *Handlers) PriceUpdate(ctx context.Context, job *domain.Job) error {
	payload, err := decode[*domain.PriceUpdatePayload](job)
	if err != nil {
		return err
	}
	a, err := h.adapter(job)
	if err != nil {
		return err
	}
	if err := a.UpdatePrice(ctx, payload.ProductID, payload.Price); err != nil {
		return fmt.Errorf("failed to update price of %s: %w", payload.ProductID, err)
	}
	return h.catalog.MarkPriceSynced(ctx, job.Marketplace, payload.ProductID, payload.Price, h.now())
}

// SendAlert delivers the payload straight to the notification channels.
// The job fails only when no channel accepted it.
func (h *Handlers) SendAlert(ctx context.Context, job *domain.Job) error {
	if h.sender == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoHandler, job.Type)
	}
	payload, err := decode[*domain.SendAlertPayload](job)
	if err != nil {
		return err
	}

	channels := payload.Channels
	if len(channels) == 0 {
		channels = h.defaultChannels
	}
	title := payload.Title
	if title == "" {
		title = "System alert"
	}

	sent := h.sender.Send(ctx, channels, notify.Notification{
		RuleName:    title,
		RuleType:    string(job.Type),
		Marketplace: job.Marketplace,
		Message:     payload.Message,
		Severity:    payload.Severity,
		Timestamp:   h.now(),
	})
	if len(sent) == 0 {
		return domain.NewRetryableError(fmt.Errorf("alert was not delivered to any of %s", strings.Join(channels, ", ")))
	}
	return nil
}

// EventOrderPrefix marks webhook events that carry an order
const EventOrderPrefix = "order."

// WebhookEvent applies a verified marketplace webhook. Order events upsert
// the order; other events are only logged.
func (h *Handlers) WebhookEvent(ctx context.Context, job *domain.Job) error {
	payload, err := decode[*domain.WebhookEventPayload](job)
	if err != nil {
		return err
	}

	logger := h.logger.With(
		slog.String("marketplace", job.Marketplace),
		slog.String("event_type", payload.EventType),
		slog.String("event_id", payload.EventID),
	)

	if !strings.HasPrefix(payload.EventType, EventOrderPrefix) {
		logger.Info("Webhook event ignored")
		return nil
	}

	var order marketplace.Order
	if err := json.Unmarshal(payload.Data, &order); err != nil {
		return fmt.Errorf("%w: order event data: %v", domain.ErrInvalidPayload, err)
	}
	if order.ExternalID == "" {
		return fmt.Errorf("%w: order event without id", domain.ErrInvalidPayload)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = h.now()
	}

	if _, err := h.catalog.UpsertOrders(ctx, []domain.Order{toDomainOrder(job.Marketplace, order)}); err != nil {
		return err
	}
	logger.Info("Webhook order applied", slog.String("order_id", order.ExternalID))
	return nil
}
