package dbstore

import (
	"database/sql"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// OpenPostgres opens a Postgres connection pool using the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// OpenSQLite opens an embedded SQLite database (or ":memory:") using the
// pure-Go modernc.org/sqlite driver, for local development and tests.
func OpenSQLite(path string) (*sql.DB, error) {
	return sql.Open("sqlite", path)
}
