package schema_test

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/nlesc/mdstudio/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_UpsertRollsBackOnQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := schema.Key{Vendor: "mdstudio", Component: "docking", Type: schema.TypeResource, Name: "ligand"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version, body, uploaded_by, uploaded_at FROM schema_documents`).
		WithArgs(key.Vendor, key.Component, string(key.Type), key.Name).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	store := schema.NewPostgresStore(db)
	_, err = store.Upsert(t.Context(), key, []byte(`{"a":1}`), "alice")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertReturnsUnchangedOnIdenticalBody(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := schema.Key{Vendor: "mdstudio", Component: "docking", Type: schema.TypeResource, Name: "ligand"}

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"version", "body", "uploaded_by", "uploaded_at"}).
		AddRow(1, []byte(`{"a":1}`), "alice", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT version, body, uploaded_by, uploaded_at FROM schema_documents`).
		WithArgs(key.Vendor, key.Component, string(key.Type), key.Name).
		WillReturnRows(rows)
	mock.ExpectCommit()

	store := schema.NewPostgresStore(db)
	doc, err := store.Upsert(t.Context(), key, []byte(`{"a":1}`), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLatestWithCeiling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := schema.Key{Vendor: "mdstudio", Component: "docking", Type: schema.TypeResource, Name: "ligand"}
	uploadedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"version", "body", "uploaded_by", "uploaded_at"}).
		AddRow(2, []byte(`{"a":2}`), "bob", uploadedAt)
	mock.ExpectQuery(`SELECT version, body, uploaded_by, uploaded_at FROM schema_documents`).
		WithArgs(key.Vendor, key.Component, string(key.Type), key.Name, 3).
		WillReturnRows(rows)

	store := schema.NewPostgresStore(db)
	doc, err := store.FindLatest(t.Context(), key, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "bob", doc.UploadedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLatestNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	key := schema.Key{Vendor: "mdstudio", Component: "docking", Type: schema.TypeResource, Name: "missing"}

	mock.ExpectQuery(`SELECT version, body, uploaded_by, uploaded_at FROM schema_documents`).
		WithArgs(key.Vendor, key.Component, string(key.Type), key.Name).
		WillReturnRows(sqlmock.NewRows([]string{"version", "body", "uploaded_by", "uploaded_at"}))

	store := schema.NewPostgresStore(db)
	_, err = store.FindLatest(t.Context(), key, 0)
	var notFound *schema.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
