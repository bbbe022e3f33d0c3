// Package seed creates the demo sales schema and describes it as a
// catalog.
package seed

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/database"
)

//go:embed sales.yaml
var catalogYAML []byte

var tables = []string{"customers", "orders", "products", "order_items"}

var ddl = []string{
	`CREATE TABLE customers (
	customer_id   INTEGER PRIMARY KEY,
	customer_name VARCHAR(100) NOT NULL,
	country       VARCHAR(50),
	created_date  DATE
)`,
	`CREATE TABLE orders (
	order_id    INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
	order_date  DATE
)`,
	`CREATE TABLE products (
	product_id   INTEGER PRIMARY KEY,
	product_name VARCHAR(100) NOT NULL,
	category     VARCHAR(50),
	unit_price   DECIMAL(10,2)
)`,
	`CREATE TABLE order_items (
	item_id    INTEGER PRIMARY KEY,
	order_id   INTEGER NOT NULL REFERENCES orders(order_id),
	product_id INTEGER NOT NULL REFERENCES products(product_id),
	quantity   INTEGER NOT NULL,
	unit_price DECIMAL(10,2) NOT NULL
)`,
}

var rows = []string{
	`INSERT INTO customers (customer_id, customer_name, country, created_date) VALUES
	(1, 'Acme GmbH', 'DE', DATE '2023-01-15'),
	(2, 'Globex Corp', 'US', DATE '2023-03-22'),
	(3, 'Initech AG', 'DE', DATE '2023-06-10'),
	(4, 'Umbrella Ltd', 'GB', DATE '2024-01-05'),
	(5, 'Stark Industries', 'US', DATE '2024-02-14')`,
	`INSERT INTO products (product_id, product_name, category, unit_price) VALUES
	(1, 'Widget A', 'Widgets', 29.99),
	(2, 'Widget B', 'Widgets', 49.99),
	(3, 'Gadget X', 'Gadgets', 149.99),
	(4, 'Gadget Y', 'Gadgets', 199.99)`,
	`INSERT INTO orders (order_id, customer_id, order_date) VALUES
	(1, 1, DATE '2024-01-10'),
	(2, 2, DATE '2024-02-15'),
	(3, 1, DATE '2024-03-20'),
	(4, 3, DATE '2024-04-05'),
	(5, 4, DATE '2024-05-12'),
	(6, 5, DATE '2024-06-18'),
	(7, 2, DATE '2024-07-22'),
	(8, 1, DATE '2024-08-30')`,
	`INSERT INTO order_items (item_id, order_id, quantity, product_id, unit_price) VALUES
	(1, 1, 10, 1, 29.99),
	(2, 2, 5, 3, 149.99),
	(3, 3, 1, 3, 149.99),
	(4, 4, 3, 4, 199.99),
	(5, 5, 5, 4, 199.99),
	(6, 6, 3, 3, 149.99),
	(7, 7, 1, 4, 199.99),
	(8, 8, 2, 2, 49.99)`,
}

// Catalog returns the bundled description of the demo schema.
func Catalog() (catalog.Catalog, error) {
	c, err := catalog.Parse(catalogYAML)
	if err != nil {
		return catalog.Catalog{}, fmt.Errorf("parse bundled catalog: %w", err)
	}
	return c, nil
}

// CatalogYAML returns the bundled catalog file contents.
func CatalogYAML() []byte {
	out := make([]byte, len(catalogYAML))
	copy(out, catalogYAML)
	return out
}

type Options struct {
	// Reset drops existing demo tables first.
	Reset bool
}

type Summary struct {
	Tables    int
	Customers int
	Orders    int
	Products  int
	Items     int
}

// Apply creates and fills the demo tables in one transaction.
func Apply(ctx context.Context, db *database.DB, opts Options) (Summary, error) {
	tx, err := db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opts.Reset {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, dropStatement(db.Dialect(), tables[i])); err != nil {
				return Summary{}, fmt.Errorf("drop table %s: %w", tables[i], err)
			}
		}
	}
	for i, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return Summary{}, fmt.Errorf("create table %s: %w", tables[i], err)
		}
	}
	for _, stmt := range rows {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return Summary{}, fmt.Errorf("insert seed rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit seed transaction: %w", err)
	}
	return Summary{Tables: len(tables), Customers: 5, Orders: 8, Products: 4, Items: 8}, nil
}

func dropStatement(dialect database.Dialect, table string) string {
	if dialect == database.Postgres {
		return "DROP TABLE IF EXISTS " + table + " CASCADE"
	}
	return "DROP TABLE IF EXISTS " + table
}
