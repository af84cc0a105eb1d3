package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// Limiter gates outbound calls per marketplace endpoint
type Limiter interface {
	Acquire(ctx context.Context, marketplace, endpoint string) error
}

// RESTConfig configures a generic JSON REST adapter
type RESTConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RESTAdapter implements Adapter against a JSON REST API. Every call passes
// through the rate limiter first.
type RESTAdapter struct {
	cfg     RESTConfig
	client  *http.Client
	limiter Limiter
	logger  *slog.Logger
}

// NewRESTAdapter creates a REST adapter
func NewRESTAdapter(cfg RESTConfig, limiter Limiter, logger *slog.Logger) *RESTAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With(slog.String("marketplace", cfg.Name)),
	}
}

func (a *RESTAdapter) Name() string { return a.cfg.Name }

// APIError is a non-2xx answer from the marketplace
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace returned %d: %s", e.StatusCode, e.Body)
}

func (a *RESTAdapter) do(ctx context.Context, endpoint, method, path string, query url.Values, in, out any) error {
	if a.limiter != nil {
		if err := a.limiter.Acquire(ctx, a.cfg.Name, endpoint); err != nil {
			return err
		}
	}

	u := a.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	a.logger.Debug("Marketplace call",
		slog.String("endpoint", endpoint),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewRetryableError(apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func (a *RESTAdapter) TestConnection(ctx context.Context) error {
	return a.do(ctx, "ping", http.MethodGet, "/ping", nil, nil, nil)
}

func (a *RESTAdapter) GetProducts(ctx context.Context, q ProductQuery) ([]Product, error) {
	query := url.Values{}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(q.PageSize))
	}

	var out struct {
		Products []Product `json:"products"`
	}
	if err := a.do(ctx, "products", http.MethodGet, "/products", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

func (a *RESTAdapter) PushProduct(ctx context.Context, p Product) error {
	return a.do(ctx, "products", http.MethodPut, "/products/"+url.PathEscape(p.ID), nil, p, nil)
}

func (a *RESTAdapter) GetOrders(ctx context.Context, q OrderQuery) ([]Order, error) {
	query := url.Values{}
	query.Set("since", q.Since.UTC().Format(time.RFC3339))
	query.Set("until", q.Until.UTC().Format(time.RFC3339))
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := a.do(ctx, "orders", http.MethodGet, "/orders", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (a *RESTAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error) {
	var out OrderStatus
	if err := a.do(ctx, "orders", http.MethodPost, "/orders", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *RESTAdapter) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var out OrderStatus
	if err := a.do(ctx, "orders", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *RESTAdapter) UpdateStock(ctx context.Context, productID string, quantity int) error {
	body := map[string]int{"quantity": quantity}
	return a.do(ctx, "stock", http.MethodPut, "/products/"+url.PathEscape(productID)+"/stock", nil, body, nil)
}

func (a *RESTAdapter) UpdatePrice(ctx context.Context, productID string, price float64) error {
	body := map[string]float64{"price": price}
	return a.do(ctx, "price", http.MethodPut, "/products/"+url.PathEscape(productID)+"/price", nil, body, nil)
}

func (a *RESTAdapter) UpdateInventoryBatch(ctx context.Context, items []InventoryItem) (*BatchResult, error) {
	var out BatchResult
	body := map[string][]InventoryItem{"items": items}
	if err := a.do(ctx, "stock", http.MethodPost, "/inventory/batch", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *RESTAdapter) GetCategories(ctx context.Context) ([]Category, error) {
	var out struct {
		Categories []Category `json:"categories"`
	}
	if err := a.do(ctx, "categories", http.MethodGet, "/categories", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}
