// Package engine owns the embedded DuckDB instance: setup (extensions,
// settings, secrets, attached databases), bounded query execution and schema
// inspection for the catalog.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"duck-analyst/internal/ddl"
)

// Options configures a DuckDB instance.
type Options struct {
	// Path is the database file; empty opens an in-memory database.
	Path        string
	MemoryLimit string
	Threads     int
	Extensions  []string
}

// Open opens DuckDB and applies settings and extensions.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		stmt, err := ddl.SetMemoryLimit(opts.MemoryLimit)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("build DDL: %w", err)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}
	if opts.Threads > 0 {
		stmt, err := ddl.SetThreads(opts.Threads)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("build DDL: %w", err)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}
	if err := InstallExtensions(ctx, db, opts.Extensions...); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("duckdb ready",
		"path", displayPath(opts.Path),
		"memory_limit", opts.MemoryLimit,
		"threads", opts.Threads,
		"extensions", opts.Extensions)
	return db, nil
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}

// InstallExtensions installs and loads DuckDB extensions in order.
func InstallExtensions(ctx context.Context, db *sql.DB, names ...string) error {
	for _, name := range names {
		stmts, err := ddl.LoadExtension(name)
		if err != nil {
			return fmt.Errorf("build DDL: %w", err)
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("extension setup (%s): %w", stmt, err)
			}
		}
	}
	return nil
}

// CreateS3Secret creates a named DuckDB secret for S3-compatible storage.
func CreateS3Secret(ctx context.Context, db *sql.DB, secret ddl.S3Secret) error {
	stmt, err := ddl.CreateS3Secret(secret)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create S3 secret %q: %w", secret.Name, err)
	}
	return nil
}

// CreateAzureSecret creates a named DuckDB secret for Azure Blob Storage.
func CreateAzureSecret(ctx context.Context, db *sql.DB, name, accountName, accountKey, connectionString string) error {
	stmt, err := ddl.CreateAzureSecret(name, accountName, accountKey, connectionString)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create Azure secret %q: %w", name, err)
	}
	return nil
}

// CreateGCSSecret creates a named DuckDB secret for Google Cloud Storage.
func CreateGCSSecret(ctx context.Context, db *sql.DB, name, keyID, secret string) error {
	stmt, err := ddl.CreateGCSSecret(name, keyID, secret)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create GCS secret %q: %w", name, err)
	}
	return nil
}

// DropSecret removes a named DuckDB secret.
func DropSecret(ctx context.Context, db *sql.DB, name string) error {
	stmt, err := ddl.DropSecret(name)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop secret %q: %w", name, err)
	}
	return nil
}

// AttachPostgres attaches a PostgreSQL database read-only under alias. The
// postgres extension is loaded first.
func AttachPostgres(ctx context.Context, db *sql.DB, alias, dsn string) error {
	stmt, err := ddl.AttachPostgres(alias, dsn)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if IsCatalogAttached(ctx, db, alias) {
		return nil
	}
	if err := InstallExtensions(ctx, db, "postgres"); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("attach postgres %q: %w", alias, err)
	}
	return nil
}

// DetachCatalog detaches a previously attached database.
func DetachCatalog(ctx context.Context, db *sql.DB, alias string) error {
	stmt, err := ddl.DetachCatalog(alias)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("detach %q: %w", alias, err)
	}
	return nil
}

// IsCatalogAttached checks if a database with the given alias is attached.
func IsCatalogAttached(ctx context.Context, db *sql.DB, alias string) bool {
	rows, err := db.QueryContext(ctx, "SELECT database_name FROM duckdb_databases() WHERE database_name = ?", alias)
	if err != nil {
		return false
	}
	defer rows.Close() //nolint:errcheck
	return rows.Next()
}
