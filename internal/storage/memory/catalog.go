package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
)

// PutProduct inserts or replaces the sync state of a product
func (m *Store) PutProduct(p domain.ProductSyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := p
	m.products[productKey{p.Marketplace, p.ProductID}] = &c
}

func (m *Store) selectProducts(marketplace string, limit int, match func(*domain.ProductSyncState) bool, stamp func(*domain.ProductSyncState) *time.Time) []domain.ProductSyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ProductSyncState
	for k, p := range m.products {
		if k.marketplace == marketplace && match(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ta, tb := stamp(&out[a]), stamp(&out[b])
		switch {
		case ta == nil && tb == nil:
			return out[a].ProductID < out[b].ProductID
		case ta == nil:
			return true
		case tb == nil:
			return false
		case !ta.Equal(*tb):
			return ta.Before(*tb)
		}
		return out[a].ProductID < out[b].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StaleProducts returns products never synced or last synced before the cutoff
func (m *Store) StaleProducts(_ context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	return m.selectProducts(marketplace, limit,
		func(p *domain.ProductSyncState) bool { return p.LastSync == nil || p.LastSync.Before(before) },
		func(p *domain.ProductSyncState) *time.Time { return p.LastSync },
	), nil
}

// StockDrift returns products whose stock differs from the synced value or whose stock sync is stale
func (m *Store) StockDrift(_ context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	return m.selectProducts(marketplace, limit,
		func(p *domain.ProductSyncState) bool {
			return p.SyncedStock == nil || *p.SyncedStock != p.LocalStock ||
				p.LastStockSync == nil || p.LastStockSync.Before(before)
		},
		func(p *domain.ProductSyncState) *time.Time { return p.LastStockSync },
	), nil
}

// PriceDrift returns products whose price differs from the synced value or whose price sync is stale
func (m *Store) PriceDrift(_ context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	return m.selectProducts(marketplace, limit,
		func(p *domain.ProductSyncState) bool {
			return p.SyncedPrice == nil || *p.SyncedPrice != p.LocalPrice ||
				p.LastPriceSync == nil || p.LastPriceSync.Before(before)
		},
		func(p *domain.ProductSyncState) *time.Time { return p.LastPriceSync },
	), nil
}

// GetProduct returns the sync state of one product
func (m *Store) GetProduct(_ context.Context, marketplace, productID string) (*domain.ProductSyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productKey{marketplace, productID}]
	if !ok {
		return nil, fmt.Errorf("failed to get product %s: not found", productID)
	}
	c := *p
	return &c, nil
}

// MarkProductSynced stamps a full product sync
func (m *Store) MarkProductSynced(_ context.Context, marketplace, productID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[productKey{marketplace, productID}]; ok {
		p.LastSync = timePtr(now)
	}
	return nil
}

// MarkStockSynced records accepted quantities
func (m *Store) MarkStockSynced(_ context.Context, marketplace string, stock map[string]int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for productID, qty := range stock {
		if p, ok := m.products[productKey{marketplace, productID}]; ok {
			q := qty
			p.SyncedStock = &q
			p.LastStockSync = timePtr(now)
		}
	}
	return nil
}

// MarkPriceSynced records an accepted price
func (m *Store) MarkPriceSynced(_ context.Context, marketplace, productID string, price float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.products[productKey{marketplace, productID}]; ok {
		v := price
		p.SyncedPrice = &v
		p.LastPriceSync = timePtr(now)
	}
	return nil
}

// UpsertOrders stores imported orders and reports how many were new
func (m *Store) UpsertOrders(_ context.Context, orders []domain.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, o := range orders {
		key := productKey{o.Marketplace, o.ExternalID}
		if existing, ok := m.orders[key]; ok {
			existing.Status = o.Status
			m.orders[key] = existing
			continue
		}
		m.orders[key] = o
		inserted++
	}
	return inserted, nil
}

// CountOrdersSince counts orders per marketplace created after since
func (m *Store) CountOrdersSince(_ context.Context, since time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[string]int{}
	for _, o := range m.orders {
		if !o.CreatedAt.Before(since) {
			counts[o.Marketplace]++
		}
	}
	return counts, nil
}
