package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the typed body of a job. Every job type has exactly one payload type.
type Payload interface {
	JobType() JobType
	Validate() error
}

// ProductSyncPayload pushes one product listing to a marketplace
type ProductSyncPayload struct {
	ProductID string `json:"product_id"`
}

func (p ProductSyncPayload) JobType() JobType { return JobTypeProductSync }

func (p ProductSyncPayload) Validate() error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidPayload)
	}
	return nil
}

// OrderSyncPayload imports marketplace orders created inside a time range
type OrderSyncPayload struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
	Limit int       `json:"limit,omitempty"`
}

func (p OrderSyncPayload) JobType() JobType { return JobTypeOrderSync }

func (p OrderSyncPayload) Validate() error {
	if p.Since.IsZero() || p.Until.IsZero() {
		return fmt.Errorf("%w: since and until are required", ErrInvalidPayload)
	}
	if !p.Until.After(p.Since) {
		return fmt.Errorf("%w: until must be after since", ErrInvalidPayload)
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidPayload)
	}
	return nil
}

// StockUpdatePayload sets the available quantity of a product
type StockUpdatePayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (p StockUpdatePayload) JobType() JobType { return JobTypeStockUpdate }

func (p StockUpdatePayload) Validate() error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidPayload)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidPayload)
	}
	return nil
}

// PriceUpdatePayload sets the selling price of a product
type PriceUpdatePayload struct {
	ProductID string  `json:"product_id"`
	Price     float64 `json:"price"`
}

func (p PriceUpdatePayload) JobType() JobType { return JobTypePriceUpdate }

func (p PriceUpdatePayload) Validate() error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: product_id is required", ErrInvalidPayload)
	}
	if p.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidPayload)
	}
	return nil
}

// SendAlertPayload delivers a notification outside of rule evaluation
type SendAlertPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Channels []string `json:"channels,omitempty"`
}

func (p SendAlertPayload) JobType() JobType { return JobTypeSendAlert }

func (p SendAlertPayload) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidPayload, p.Severity)
	}
	return nil
}

// WebhookEventPayload carries a verified inbound marketplace webhook
type WebhookEventPayload struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (p WebhookEventPayload) JobType() JobType { return JobTypeWebhookEvent }

func (p WebhookEventPayload) Validate() error {
	if p.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidPayload)
	}
	return nil
}

var payloadFactories = map[JobType]func() Payload{
	JobTypeProductSync:  func() Payload { return &ProductSyncPayload{} },
	JobTypeOrderSync:    func() Payload { return &OrderSyncPayload{} },
	JobTypeStockUpdate:  func() Payload { return &StockUpdatePayload{} },
	JobTypePriceUpdate:  func() Payload { return &PriceUpdatePayload{} },
	JobTypeSendAlert:    func() Payload { return &SendAlertPayload{} },
	JobTypeWebhookEvent: func() Payload { return &WebhookEventPayload{} },
}

// KnownJobType reports whether t has a registered payload type
func KnownJobType(t JobType) bool {
	_, ok := payloadFactories[t]
	return ok
}

// EncodePayload validates p against the job type and serializes it
func EncodePayload(t JobType, p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if p.JobType() != t {
		return nil, fmt.Errorf("%w: payload for %s used with job type %s", ErrInvalidPayload, p.JobType(), t)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// DecodePayload parses the stored payload of a job into its typed form
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidPayload, t)
	}
	p := factory()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
