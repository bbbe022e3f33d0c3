package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/askql/askql/internal/config"
	"github.com/askql/askql/internal/database"
	"github.com/askql/askql/internal/demo/seed"
)

func main() {
	reset := flag.Bool("reset", false, "drop the demo tables before creating them")
	catalogPath := flag.String("catalog", "", "also write the demo catalog file to this path")
	flag.Parse()

	cfg, err := config.LoadFromEnv("askql-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	dialect, err := database.ParseDialect(cfg.DB.Driver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if dialect == database.DuckDB && cfg.DB.DSN == "" {
		fmt.Fprintln(os.Stderr, "ASKQL_DB_DSN must name a DuckDB file; an in-memory database would be discarded on exit")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, database.Config{Dialect: dialect, DSN: cfg.DB.DSN, MaxOpenConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	summary, err := seed.Apply(ctx, db, seed.Options{Reset: *reset})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d tables: %d customers, %d orders, %d products, %d order items\n",
		summary.Tables, summary.Customers, summary.Orders, summary.Products, summary.Items)

	if *catalogPath != "" {
		if err := os.WriteFile(*catalogPath, seed.CatalogYAML(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote catalog to %s\n", *catalogPath)
	}
}
