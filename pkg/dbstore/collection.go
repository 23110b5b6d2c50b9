// Package dbstore provides a generic, JSON-document-backed collection over
// either Postgres (github.com/lib/pq) or an embedded SQLite
// (modernc.org/sqlite), standing in for "the database driver" that the
// platform's users, clients, sessions, registration_info and workflow
// (cerise) collections are persisted through. The upsert-by-id pattern is
// grounded on the teacher's postgres_registry.go, generalized from a single
// module registry to any JSON-serializable document type.
package dbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Driver selects the SQL dialect a Collection speaks.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Collection persists values of type T as JSON documents keyed by a string
// id, backed by a single SQL table.
type Collection[T any] struct {
	db     *sql.DB
	driver Driver
	table  string
}

// NewCollection wraps an already-open *sql.DB. table must be a valid SQL
// identifier; callers control it, not untrusted input.
func NewCollection[T any](db *sql.DB, driver Driver, table string) *Collection[T] {
	return &Collection[T]{db: db, driver: driver, table: table}
}

// EnsureSchema creates the backing table if it does not already exist.
func (c *Collection[T]) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch c.driver {
	case DriverPostgres:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, c.table)
	case DriverSQLite:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`, c.table)
	default:
		return fmt.Errorf("dbstore: unknown driver %q", c.driver)
	}
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

// Put inserts or replaces the document stored under id.
func (c *Collection[T]) Put(ctx context.Context, id string, doc T) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	var query string
	switch c.driver {
	case DriverPostgres:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, doc, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`, c.table)
	case DriverSQLite:
		query = fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, doc, updated_at) VALUES (?, ?, ?)`, c.table)
	default:
		return fmt.Errorf("dbstore: unknown driver %q", c.driver)
	}
	_, err = c.db.ExecContext(ctx, query, id, body, now)
	return err
}

// ErrNotFound is returned by Get for an unknown id. Delete of an unknown
// id is not an error.
var ErrNotFound = fmt.Errorf("dbstore: document not found")

// Get fetches and unmarshals the document stored under id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = %s`, c.table, c.placeholder(1))
	var body []byte
	row := c.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return zero, ErrNotFound
		}
		return zero, err
	}
	var doc T
	if err := json.Unmarshal(body, &doc); err != nil {
		return zero, err
	}
	return doc, nil
}

// Delete removes the document stored under id, if any.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, c.table, c.placeholder(1))
	_, err := c.db.ExecContext(ctx, query, id)
	return err
}

// List returns every document in the collection, in no particular order.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s`, c.table)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (c *Collection[T]) placeholder(n int) string {
	if c.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
