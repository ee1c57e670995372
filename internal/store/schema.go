package store

import (
	"context"
	"fmt"
	"strings"
)

// schema is written once for both dialects. Placeholders in angle brackets
// are substituted per driver.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id <ID>,
	phone TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'customer',
	created_at <TIME> NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id <ID>,
	title TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	category_id BIGINT,
	price <MONEY> NOT NULL,
	discount <MONEY> NOT NULL,
	gst <MONEY> NOT NULL,
	cgst <MONEY> NOT NULL,
	stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	sizes <ARRAY> NOT NULL DEFAULT '{}',
	colors <ARRAY> NOT NULL DEFAULT '{}',
	images <ARRAY> NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_featured BOOLEAN NOT NULL DEFAULT FALSE,
	created_at <TIME> NOT NULL,
	updated_at <TIME> NOT NULL
);

CREATE TABLE IF NOT EXISTS product_variants (
	product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	size TEXT NOT NULL,
	color TEXT NOT NULL,
	stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	PRIMARY KEY (product_id, size, color)
);

CREATE TABLE IF NOT EXISTS cart_items (
	id <ID>,
	user_id BIGINT NOT NULL,
	product_id BIGINT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity >= 1),
	size TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	created_at <TIME> NOT NULL,
	updated_at <TIME> NOT NULL,
	UNIQUE (user_id, product_id, size, color)
);

CREATE TABLE IF NOT EXISTS addresses (
	id <ID>,
	user_id BIGINT NOT NULL,
	full_name TEXT NOT NULL,
	phone TEXT NOT NULL,
	line1 TEXT NOT NULL,
	line2 TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL,
	state TEXT NOT NULL,
	postal_code TEXT NOT NULL,
	country TEXT NOT NULL DEFAULT 'IN',
	created_at <TIME> NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id <ID>,
	order_number TEXT NOT NULL UNIQUE,
	user_id BIGINT NOT NULL,
	items <JSON> NOT NULL,
	subtotal <MONEY> NOT NULL,
	discount_total <MONEY> NOT NULL,
	gst_total <MONEY> NOT NULL,
	cgst_total <MONEY> NOT NULL,
	grand_total <MONEY> NOT NULL,
	shipping_address <JSON> NOT NULL,
	payment_method TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	order_status TEXT NOT NULL,
	gateway_order_id TEXT NOT NULL DEFAULT '',
	gateway_payment_id TEXT NOT NULL DEFAULT '',
	tracking_number TEXT NOT NULL DEFAULT '',
	courier_name TEXT NOT NULL DEFAULT '',
	settled_at <TIME>,
	stock_restored BOOLEAN NOT NULL DEFAULT FALSE,
	created_at <TIME> NOT NULL,
	updated_at <TIME> NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_orders_gateway_order ON orders (gateway_order_id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at <TIME> NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	id <ID>,
	product_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at <TIME> NOT NULL,
	updated_at <TIME> NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews (product_id, status)
`

var dialects = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"<ID>", "BIGSERIAL PRIMARY KEY",
		"<TIME>", "TIMESTAMPTZ",
		"<MONEY>", "NUMERIC",
		"<ARRAY>", "TEXT[]",
		"<JSON>", "JSONB",
	),
	// sqlite keeps money as TEXT so decimals round-trip exactly
	DriverSQLite: strings.NewReplacer(
		"<ID>", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"<TIME>", "TIMESTAMP",
		"<MONEY>", "TEXT",
		"<ARRAY>", "TEXT",
		"<JSON>", "TEXT",
	),
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	r, ok := dialects[s.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driver)
	}

	for _, stmt := range strings.Split(r.Replace(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
