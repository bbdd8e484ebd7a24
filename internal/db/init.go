// Package db opens the SQL database, applies the embedded schema migrations
// and runs background maintenance against the record store.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/atinyakov/memberauth/internal/repository"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Open connects to the database behind dsn using the named driver
// ("postgres", "pgx" or "mysql") and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations for dialect.
func Migrate(ctx context.Context, db *sql.DB, dialect repository.Dialect) error {
	sub, err := fs.Sub(migrations, "migrations/"+dialect.Name)
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", dialect.Name, err)
	}
	goose.SetBaseFS(sub)
	if err := goose.SetDialect(dialect.Name); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
