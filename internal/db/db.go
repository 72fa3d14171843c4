// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Open connects to postgres (dsn is a postgres:// URL) or sqlite (dsn is a file
// path or ":memory:") and makes sure the schema exists.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "postgres":
	case "sqlite":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if driver == "sqlite" {
		// one connection serializes transactions and keeps :memory: databases shared
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		_, _ = conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
