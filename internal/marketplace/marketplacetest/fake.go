// Package marketplacetest provides an in-memory marketplace adapter for tests.
package marketplacetest

import (
	"context"
	"sync"

	"github.com/cuongbtq/marketsync/internal/marketplace"
)

// Fake records every call and returns canned data. Set Err to fail all calls.
type Fake struct {
	mu sync.Mutex

	MarketplaceName string
	Err             error
	Products        []marketplace.Product
	Orders          []marketplace.Order
	Categories      []marketplace.Category

	Pushed       []marketplace.Product
	StockUpdates map[string]int
	PriceUpdates map[string]float64
	Batches      [][]marketplace.InventoryItem
	Calls        []string
}

// New creates a Fake named after a marketplace
func New(name string) *Fake {
	return &Fake{
		MarketplaceName: name,
		StockUpdates:    make(map[string]int),
		PriceUpdates:    make(map[string]float64),
	}
}

func (f *Fake) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	return f.Err
}

// SetErr changes the error returned by subsequent calls
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// CallCount returns how many calls were made
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

func (f *Fake) Name() string { return f.MarketplaceName }

func (f *Fake) TestConnection(_ context.Context) error {
	return f.record("test_connection")
}

func (f *Fake) GetProducts(_ context.Context, _ marketplace.ProductQuery) ([]marketplace.Product, error) {
	if err := f.record("get_products"); err != nil {
		return nil, err
	}
	return f.Products, nil
}

func (f *Fake) PushProduct(_ context.Context, p marketplace.Product) error {
	if err := f.record("push_product"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pushed = append(f.Pushed, p)
	return nil
}

func (f *Fake) GetOrders(_ context.Context, q marketplace.OrderQuery) ([]marketplace.Order, error) {
	if err := f.record("get_orders"); err != nil {
		return nil, err
	}
	var out []marketplace.Order
	for _, o := range f.Orders {
		if o.CreatedAt.Before(q.Since) || !o.CreatedAt.Before(q.Until) {
			continue
		}
		out = append(out, o)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) CreateOrder(_ context.Context, req marketplace.OrderRequest) (*marketplace.OrderStatus, error) {
	if err := f.record("create_order"); err != nil {
		return nil, err
	}
	return &marketplace.OrderStatus{ExternalID: req.Reference, Status: "created"}, nil
}

func (f *Fake) GetOrderStatus(_ context.Context, orderID string) (*marketplace.OrderStatus, error) {
	if err := f.record("get_order_status"); err != nil {
		return nil, err
	}
	return &marketplace.OrderStatus{ExternalID: orderID, Status: "shipped"}, nil
}

func (f *Fake) UpdateStock(_ context.Context, productID string, quantity int) error {
	if err := f.record("update_stock"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StockUpdates[productID] = quantity
	return nil
}

func (f *Fake) UpdatePrice(_ context.Context, productID string, price float64) error {
	if err := f.record("update_price"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PriceUpdates[productID] = price
	return nil
}

func (f *Fake) UpdateInventoryBatch(_ context.Context, items []marketplace.InventoryItem) (*marketplace.BatchResult, error) {
	if err := f.record("update_inventory_batch"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Batches = append(f.Batches, items)
	return &marketplace.BatchResult{Accepted: len(items)}, nil
}

func (f *Fake) GetCategories(_ context.Context) ([]marketplace.Category, error) {
	if err := f.record("get_categories"); err != nil {
		return nil, err
	}
	return f.Categories, nil
}
