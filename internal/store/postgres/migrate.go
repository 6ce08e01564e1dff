package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sku TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (business_id, sku)
	)`,
	`CREATE TABLE IF NOT EXISTS product_inventory (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		shop_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		min_stock INTEGER NOT NULL DEFAULT 0 CHECK (min_stock >= 0),
		max_stock INTEGER CHECK (max_stock IS NULL OR max_stock >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (product_id, shop_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_product_inventory_shop ON product_inventory (shop_id)`,
	`CREATE TABLE IF NOT EXISTS shop_sale_counters (
		shop_id TEXT PRIMARY KEY,
		last_number BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_number TEXT NOT NULL,
		business_id TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		cashier_name TEXT NOT NULL DEFAULT '',
		subtotal_cents BIGINT NOT NULL,
		tax_cents BIGINT NOT NULL,
		discount_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		paid_cents BIGINT NOT NULL,
		change_cents BIGINT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('completed', 'partial_refund', 'refunded', 'voided')),
		total_refunded_cents BIGINT NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (shop_id, sale_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_business_created ON sales (business_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		total_price_cents BIGINT NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS staff (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('cashier', 'manager', 'admin')),
		business_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
