package main

import (
	"context"
	"fmt"
	"os"

	"github.com/appforge/usagesync/internal/config"
	"github.com/appforge/usagesync/internal/store/postgres"
	"github.com/jackc/pgx/v5"
)

// reset-usage [tenant-id ...]
//
// Deletes usage quota documents so the next sync recreates them from
// defaults. With no arguments every tenant's document is removed.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	conn, err := pgx.Connect(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}.ConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	tenants := os.Args[1:]
	if len(tenants) == 0 {
		tag, err := conn.Exec(ctx, "DELETE FROM usage_quotas")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d usage quota documents.\n", tag.RowsAffected())
		return
	}

	for _, id := range tenants {
		tag, err := conn.Exec(ctx, "DELETE FROM usage_quotas WHERE tenant_id = $1", id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reset of %s failed: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("✓ %s: removed %d documents\n", id, tag.RowsAffected())
	}
}
