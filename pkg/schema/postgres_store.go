package schema

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nlesc/mdstudio/pkg/canonicalize"
)

// PostgresStore persists schema documents to Postgres. Serialization per key
// is provided by a row-level SELECT ... FOR UPDATE rather than an
// in-process mutex, so it is safe across multiple node processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB (lib/pq driver).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgSchemaDDL = `
CREATE TABLE IF NOT EXISTS schema_documents (
	vendor      TEXT NOT NULL,
	component   TEXT NOT NULL,
	type        TEXT NOT NULL,
	name        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	body        JSONB NOT NULL,
	uploaded_by TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (vendor, component, type, name, version)
)`

// EnsureSchema creates the backing table if it does not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchemaDDL)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, key Key, body json.RawMessage, uploadedBy string) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		latestVersion    int
		latestBody       []byte
		latestUploadedBy string
		latestUploadedAt time.Time
	)
	row := tx.QueryRowContext(ctx, `
		SELECT version, body, uploaded_by, uploaded_at FROM schema_documents
		WHERE vendor=$1 AND component=$2 AND type=$3 AND name=$4
		ORDER BY version DESC LIMIT 1
		FOR UPDATE`,
		key.Vendor, key.Component, string(key.Type), key.Name)
	err = row.Scan(&latestVersion, &latestBody, &latestUploadedBy, &latestUploadedAt)
	switch {
	case err == sql.ErrNoRows:
		// no prior version; fall through to insert version 1
	case err != nil:
		return nil, err
	default:
		canonical, cerr := canonicalize.JCS(body)
		if cerr != nil {
			return nil, cerr
		}
		existingCanonical, cerr := canonicalize.JCS(json.RawMessage(latestBody))
		if cerr != nil {
			return nil, cerr
		}
		if bytes.Equal(canonical, existingCanonical) {
			return &Document{
				Key:        key,
				Version:    latestVersion,
				Body:       latestBody,
				UploadedBy: latestUploadedBy,
				UploadedAt: latestUploadedAt,
			}, tx.Commit()
		}
	}

	version := latestVersion + 1
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_documents (vendor, component, type, name, version, body, uploaded_by, uploaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		key.Vendor, key.Component, string(key.Type), key.Name, version, []byte(body), uploadedBy, now)
	if err != nil {
		return nil, fmt.Errorf("schema: insert version %d for %s: %w", version, key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Document{
		Key:        key,
		Version:    version,
		Body:       body,
		UploadedBy: uploadedBy,
		UploadedAt: now,
	}, nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, key Key, maxVersion int) (*Document, error) {
	query := `
		SELECT version, body, uploaded_by, uploaded_at FROM schema_documents
		WHERE vendor=$1 AND component=$2 AND type=$3 AND name=$4`
	args := []any{key.Vendor, key.Component, string(key.Type), key.Name}
	if maxVersion > 0 {
		query += ` AND version <= $5`
		args = append(args, maxVersion)
	}
	query += ` ORDER BY version DESC LIMIT 1`

	var doc Document
	doc.Key = key
	var body []byte
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&doc.Version, &body, &doc.UploadedBy, &doc.UploadedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, err
	}
	doc.Body = body
	return &doc, nil
}
