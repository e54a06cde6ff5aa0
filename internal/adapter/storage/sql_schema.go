package storage

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		telegram_chat_id BIGINT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_telegram_chat (telegram_chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_stores_slug (slug),
		KEY idx_stores_owner (owner_id),
		CONSTRAINT fk_stores_owner FOREIGN KEY (owner_id) REFERENCES users (id)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		stock INT NOT NULL,
		published TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_products_store (store_id),
		CONSTRAINT chk_products_stock CHECK (stock >= 0),
		CONSTRAINT fk_products_store FOREIGN KEY (store_id) REFERENCES stores (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(64) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_customers_store (store_id),
		CONSTRAINT fk_customers_store FOREIGN KEY (store_id) REFERENCES stores (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL,
		customer_id VARCHAR(36) NULL,
		customer_name VARCHAR(255) NOT NULL,
		customer_phone VARCHAR(64) NOT NULL,
		address TEXT NOT NULL,
		notes TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_orders_store_created (store_id, created_at),
		CONSTRAINT fk_orders_store FOREIGN KEY (store_id) REFERENCES stores (id) ON DELETE CASCADE,
		CONSTRAINT fk_orders_customer FOREIGN KEY (customer_id) REFERENCES customers (id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		product_id VARCHAR(36) NOT NULL,
		quantity INT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		KEY idx_order_items_order (order_id),
		KEY idx_order_items_product (product_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE,
		CONSTRAINT fk_order_items_product FOREIGN KEY (product_id) REFERENCES products (id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		telegram_chat_id BIGINT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(36) NOT NULL REFERENCES users (id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_owner ON stores (owner_id)`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL REFERENCES stores (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_store ON products (store_id)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL REFERENCES stores (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_store ON customers (store_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		store_id VARCHAR(36) NOT NULL REFERENCES stores (id) ON DELETE CASCADE,
		customer_id VARCHAR(36) NULL REFERENCES customers (id) ON DELETE SET NULL,
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL,
		address TEXT NOT NULL,
		notes TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_store_created ON orders (store_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id VARCHAR(36) NOT NULL REFERENCES products (id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items (product_id)`,
}

// EnsureSchema creates missing tables and indexes.
func (m *SQLAdapter) EnsureSchema(ctx context.Context) error {
	stmts := mysqlSchema
	if m.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
