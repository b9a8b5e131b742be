// Package database provides the SQLite document store used for data that must
// outlive a session, such as the behavior profile.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DB owns the SQLite connection and the repositories built on it.
type DB struct {
	conn      *sql.DB
	Documents *DocumentRepository
}

// Config holds database configuration
type Config struct {
	// DatabasePath is a file path or ":memory:".
	DatabasePath string
}

func (c Config) dsn() string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on",
		c.DatabasePath)
}

// NewDB opens the database and applies pending migrations.
func NewDB(config Config) (*DB, error) {
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: documents are small and rarely written, and ":memory:"
	// databases exist per connection.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	ctx := context.Background()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{
		conn:      conn,
		Documents: NewDocumentRepository(conn),
	}, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying database connection
func (db *DB) Connection() *sql.DB {
	return db.conn
}
