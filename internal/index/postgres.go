package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is the additive §4.14 execution index backend: a single
// executions table keyed by execution_id, storing the full Record as jsonb
// and upserting on write. Selected over the file-backed default via
// SPELL_API_INDEX_DSN.
type PostgresStore struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id text PRIMARY KEY,
	tenant_id text NOT NULL DEFAULT '',
	idempotency_key text NOT NULL DEFAULT '',
	record jsonb NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`

// OpenPostgresStore connects to dsn and ensures the executions table exists.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: opening postgres: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("index: creating executions table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreForTesting wraps an already-open *sql.DB (typically a
// go-sqlmock connection) without issuing the startup DDL, so tests can
// assert on the store's query shapes directly.
func NewPostgresStoreForTesting(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`
		INSERT INTO executions (execution_id, tenant_id, idempotency_key, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO UPDATE SET
			record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`, rec.ExecutionID, rec.TenantID, rec.IdempotencyKey, blob, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(executionID string) (*Record, bool, error) {
	var blob []byte
	err := p.db.QueryRow(`SELECT record FROM executions WHERE execution_id = $1`, executionID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (p *PostgresStore) FindByIdempotencyKey(tenantID, key string) (*Record, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	var blob []byte
	err := p.db.QueryRow(`
		SELECT record FROM executions
		WHERE tenant_id = $1 AND idempotency_key = $2
		ORDER BY created_at ASC LIMIT 1
	`, tenantID, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (p *PostgresStore) List(f Filter) ([]*Record, error) {
	query := `SELECT record FROM executions WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TenantID != "" {
		query += " AND tenant_id = " + arg(f.TenantID)
	}
	if f.Status != "" {
		query += " AND record->>'status' = " + arg(f.Status)
	}
	if f.ButtonID != "" {
		query += " AND record->>'button_id' = " + arg(f.ButtonID)
	}
	if f.SpellID != "" {
		query += " AND record->>'spell_id' = " + arg(f.SpellID)
	}
	if f.From != nil {
		query += " AND created_at >= " + arg(*f.From)
	}
	if f.To != nil {
		query += " AND created_at <= " + arg(*f.To)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(blob, &rec); err != nil {
			return nil, err
		}
		if f.Status != "" && string(rec.Status) != f.Status {
			continue
		}
		if f.ButtonID != "" && rec.ButtonID != f.ButtonID {
			continue
		}
		if f.SpellID != "" && rec.SpellID != f.SpellID {
			continue
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Prune deletes rows older than retentionDays and/or beyond the maxFiles
// most recent rows.
func (p *PostgresStore) Prune(maxFiles, retentionDays int) error {
	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if _, err := p.db.Exec(`DELETE FROM executions WHERE created_at < $1`, cutoff); err != nil {
			return err
		}
	}
	if maxFiles > 0 {
		_, err := p.db.Exec(`
			DELETE FROM executions WHERE execution_id IN (
				SELECT execution_id FROM executions
				ORDER BY created_at DESC OFFSET $1
			)
		`, maxFiles)
		if err != nil {
			return err
		}
	}
	return nil
}
