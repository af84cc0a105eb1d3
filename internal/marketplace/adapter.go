// Package marketplace defines the adapter contract used by job handlers and
// a registry that maps marketplace names to adapters.
package marketplace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// Product is a listing as the marketplace sees it
type Product struct {
	ID       string  `json:"id"`
	SKU      string  `json:"sku,omitempty"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Category string  `json:"category,omitempty"`
}

// ProductQuery pages through remote listings
type ProductQuery struct {
	Page     int
	PageSize int
}

// OrderQuery selects orders created inside a range
type OrderQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Order is a remote order
type Order struct {
	ExternalID string    `json:"id"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderItem is one line of an order request
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderRequest creates an order on the marketplace
type OrderRequest struct {
	Reference string      `json:"reference"`
	Items     []OrderItem `json:"items"`
}

// OrderStatus is the state of one remote order
type OrderStatus struct {
	ExternalID string    `json:"id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InventoryItem is one entry of a bulk stock update
type InventoryItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// BatchResult acknowledges a bulk update
type BatchResult struct {
	Accepted  int    `json:"accepted"`
	RequestID string `json:"request_id,omitempty"`
}

// Category is a node of the marketplace category tree
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Adapter talks to one marketplace. Errors become job failures; wrap
// transient ones with domain.NewRetryableError.
type Adapter interface {
	Name() string
	TestConnection(ctx context.Context) error
	GetProducts(ctx context.Context, q ProductQuery) ([]Product, error)
	PushProduct(ctx context.Context, p Product) error
	GetOrders(ctx context.Context, q OrderQuery) ([]Order, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	UpdateStock(ctx context.Context, productID string, quantity int) error
	UpdatePrice(ctx context.Context, productID string, price float64) error
	UpdateInventoryBatch(ctx context.Context, items []InventoryItem) (*BatchResult, error)
	GetCategories(ctx context.Context) ([]Category, error)
}

// Registry maps marketplace names to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its name
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter of a marketplace
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMarketplace, name)
	}
	return a, nil
}

// Names lists registered marketplaces in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
