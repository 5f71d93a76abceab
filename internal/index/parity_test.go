package index_test

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/index"
)

// TestFileAndPostgresStoreParity is the corpus's I11: given the same record,
// the file-backed and Postgres-backed stores round-trip it to byte-identical
// JSON (modulo field order, which json.Marshal fixes by struct field order
// regardless of backend).
func TestFileAndPostgresStoreParity(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &index.Record{
		ExecutionID: "e1",
		ButtonID:    "run-demo",
		SpellID:     "acme/demo",
		TenantID:    "acme",
		ActorRole:   "operator",
		Status:      index.StatusSucceeded,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}

	home := t.TempDir()
	fileStore, err := index.NewFileStore(home)
	require.NoError(t, err)
	require.NoError(t, fileStore.Put(rec))

	fromFile, ok, err := fileStore.Get("e1")
	require.NoError(t, err)
	require.True(t, ok)
	fileJSON, err := json.Marshal(fromFile)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	blob, err := json.Marshal(rec)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT record FROM executions WHERE execution_id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(blob))

	pgStore := index.NewPostgresStoreForTesting(db)
	fromPostgres, ok, err := pgStore.Get("e1")
	require.NoError(t, err)
	require.True(t, ok)
	pgJSON, err := json.Marshal(fromPostgres)
	require.NoError(t, err)

	require.JSONEq(t, string(fileJSON), string(pgJSON))
}
