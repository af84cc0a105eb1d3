package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"github.com/jmoiron/sqlx"
)

const productColumns = `product_id, marketplace, local_stock, synced_stock, local_price, synced_price,
	last_sync, last_stock_sync, last_price_sync`

// StaleProducts returns products never synced to the marketplace or last synced before the cutoff
func (s *Storage) StaleProducts(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	query := `
		SELECT ` + productColumns + `
		FROM product_sync_state
		WHERE marketplace = $1
		  AND (last_sync IS NULL OR last_sync < $2)
		ORDER BY last_sync ASC NULLS FIRST, product_id
		LIMIT $3
	`

	var products []domain.ProductSyncState
	if err := s.db.SelectContext(ctx, &products, query, marketplace, before, limit); err != nil {
		return nil, fmt.Errorf("failed to select stale products: %w", err)
	}
	return products, nil
}

// StockDrift returns products whose local stock differs from the synced value or whose stock sync is older than the cutoff
func (s *Storage) StockDrift(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	query := `
		SELECT ` + productColumns + `
		FROM product_sync_state
		WHERE marketplace = $1
		  AND (synced_stock IS DISTINCT FROM local_stock
		       OR last_stock_sync IS NULL
		       OR last_stock_sync < $2)
		ORDER BY last_stock_sync ASC NULLS FIRST, product_id
		LIMIT $3
	`

	var products []domain.ProductSyncState
	if err := s.db.SelectContext(ctx, &products, query, marketplace, before, limit); err != nil {
		return nil, fmt.Errorf("failed to select stock drift: %w", err)
	}
	return products, nil
}

// PriceDrift returns products whose local price differs from the synced value or whose price sync is older than the cutoff
func (s *Storage) PriceDrift(ctx context.Context, marketplace string, before time.Time, limit int) ([]domain.ProductSyncState, error) {
	query := `
		SELECT ` + productColumns + `
		FROM product_sync_state
		WHERE marketplace = $1
		  AND (synced_price IS DISTINCT FROM local_price
		       OR last_price_sync IS NULL
		       OR last_price_sync < $2)
		ORDER BY last_price_sync ASC NULLS FIRST, product_id
		LIMIT $3
	`

	var products []domain.ProductSyncState
	if err := s.db.SelectContext(ctx, &products, query, marketplace, before, limit); err != nil {
		return nil, fmt.Errorf("failed to select price drift: %w", err)
	}
	return products, nil
}

// GetProduct returns the sync state of one product on one marketplace
func (s *Storage) GetProduct(ctx context.Context, marketplace, productID string) (*domain.ProductSyncState, error) {
	query := `SELECT ` + productColumns + ` FROM product_sync_state WHERE marketplace = $1 AND product_id = $2`

	var product domain.ProductSyncState
	if err := s.db.GetContext(ctx, &product, query, marketplace, productID); err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return &product, nil
}

// MarkProductSynced stamps a full product sync
func (s *Storage) MarkProductSynced(ctx context.Context, marketplace, productID string, now time.Time) error {
	query := `UPDATE product_sync_state SET last_sync = $1 WHERE marketplace = $2 AND product_id = $3`

	if _, err := s.db.ExecContext(ctx, query, now, marketplace, productID); err != nil {
		return fmt.Errorf("failed to mark product synced: %w", err)
	}
	return nil
}

// MarkStockSynced records the quantities the marketplace accepted, all in one transaction
func (s *Storage) MarkStockSynced(ctx context.Context, marketplace string, stock map[string]int, now time.Time) error {
	query := `
		UPDATE product_sync_state
		SET synced_stock = $1, last_stock_sync = $2
		WHERE marketplace = $3 AND product_id = $4
	`

	return s.client.InTx(ctx, func(tx *sqlx.Tx) error {
		for productID, qty := range stock {
			if _, err := tx.ExecContext(ctx, query, qty, now, marketplace, productID); err != nil {
				return fmt.Errorf("failed to mark stock synced: %w", err)
			}
		}
		return nil
	})
}

// MarkPriceSynced records the price the marketplace accepted
func (s *Storage) MarkPriceSynced(ctx context.Context, marketplace, productID string, price float64, now time.Time) error {
	query := `
		UPDATE product_sync_state
		SET synced_price = $1, last_price_sync = $2
		WHERE marketplace = $3 AND product_id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, price, now, marketplace, productID); err != nil {
		return fmt.Errorf("failed to mark price synced: %w", err)
	}
	return nil
}

// UpsertOrders stores imported orders, ignoring ones already known
func (s *Storage) UpsertOrders(ctx context.Context, orders []domain.Order) (int, error) {
	query := `
		INSERT INTO orders (marketplace, external_id, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (marketplace, external_id) DO UPDATE SET status = EXCLUDED.status
		RETURNING (xmax = 0) AS inserted
	`

	inserted := 0
	err := s.client.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, order := range orders {
			var isNew bool
			if err := tx.GetContext(ctx, &isNew, query,
				order.Marketplace, order.ExternalID, order.Status, order.Total, order.CreatedAt); err != nil {
				return fmt.Errorf("failed to upsert order: %w", err)
			}
			if isNew {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountOrdersSince counts orders per marketplace created after since
func (s *Storage) CountOrdersSince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT marketplace, COUNT(*) AS n
		FROM orders
		WHERE created_at >= $1
		GROUP BY marketplace
	`

	var rows []struct {
		Marketplace string `db:"marketplace"`
		N           int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Marketplace] = r.N
	}
	return counts, nil
}
