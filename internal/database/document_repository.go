package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scribehub/recordcache/internal/platform"
)

// DocumentRepository stores whole documents by key. It implements
// platform.Storage.
type DocumentRepository struct {
	db *sql.DB
}

// NewDocumentRepository creates a repository on db.
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Persist replaces the document stored under key.
func (r *DocumentRepository) Persist(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO documents (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = datetime('now')
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to persist document %s: %w", key, err)
	}
	return nil
}

// Read returns the document stored under key, or platform.ErrNotFound.
func (r *DocumentRepository) Read(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM documents WHERE key = ?`
	var value []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, platform.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read document %s: %w", key, err)
	}
	return value, nil
}

// Delete removes the document stored under key.
func (r *DocumentRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored key.
func (r *DocumentRepository) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM documents ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan document key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ platform.Storage = (*DocumentRepository)(nil)
