// Package index persists the execution API's index of submitted executions:
// the default file-backed logs/index.json (§4.11), plus the additive
// Postgres-backed alternative of §4.14.
//
// Grounded on bartekus-stagecraft/internal/core/state/state.go's
// atomic-write-then-rename saveState() for the file backend, and
// pkg/registry/postgres_registry.go for the optional relational backend.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spellruntime/spell/internal/receipt"
)

// Status is an execution's lifecycle state as tracked by the API index.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCanceled  Status = "canceled"
)

// Record is the API's execution index entry: the receipt plus API-specific
// linkage fields not present in the bare cast receipt.
type Record struct {
	Receipt        *receipt.Receipt `json:"receipt"`
	ExecutionID    string           `json:"execution_id"`
	ButtonID       string           `json:"button_id"`
	SpellID        string           `json:"spell_id"`
	TenantID       string           `json:"tenant_id,omitempty"`
	ActorRole      string           `json:"actor_role,omitempty"`
	Status         Status           `json:"status"`
	ErrorCode      string           `json:"error_code,omitempty"`
	RetryOf        string           `json:"retry_of,omitempty"`
	RetriedBy      string           `json:"retried_by,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Filter narrows a List call.
type Filter struct {
	Status   string
	ButtonID string
	SpellID  string
	TenantID string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// Store is the persistence interface the API server depends on; FileStore
// and the Postgres-backed store both implement it.
type Store interface {
	Put(rec *Record) error
	Get(executionID string) (*Record, bool, error)
	FindByIdempotencyKey(tenantID, key string) (*Record, bool, error)
	List(f Filter) ([]*Record, error)
	Prune(maxFiles, retentionDays int) error
}

// FileStore persists the index as a single logs/index.json, written
// atomically. The cast orchestrator separately writes each receipt to
// logs/<receipt execution_id>.json; FileStore only reads those back during
// startup rebuild.
type FileStore struct {
	mu      sync.RWMutex
	home    string
	records map[string]*Record
}

// NewFileStore opens (and if needed rebuilds) the file-backed index rooted
// at home (typically ~/.spell).
func NewFileStore(home string) (*FileStore, error) {
	fs := &FileStore{home: home, records: map[string]*Record{}}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) indexPath() string {
	return filepath.Join(fs.home, "logs", "index.json")
}

// load reads logs/index.json if present; a file that fails to parse is an
// error. If index.json is missing, it rebuilds the index by scanning
// logs/*.json receipt files. Rebuilt records are keyed by each receipt's own
// execution_id and carry only what the receipt holds (spell id, a
// succeeded/failed status, error code, timestamps); button, tenant, retry and
// idempotency linkage is not recovered.
func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.indexPath())
	if err == nil {
		var records []*Record
		if jerr := json.Unmarshal(data, &records); jerr != nil {
			return fmt.Errorf("index: parsing index.json: %w", jerr)
		}
		for _, r := range records {
			fs.records[r.ExecutionID] = r
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("index: reading index.json: %w", err)
	}
	return fs.rebuildFromReceipts()
}

func (fs *FileStore) rebuildFromReceipts() error {
	logsDir := filepath.Join(fs.home, "logs")
	entries, err := os.ReadDir(logsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: scanning logs/: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "index.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(logsDir, name))
		if err != nil {
			continue
		}
		var rec receipt.Receipt
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		status := StatusSucceeded
		if !rec.Success {
			status = StatusFailed
		}
		fs.records[rec.ExecutionID] = &Record{
			Receipt: &rec, ExecutionID: rec.ExecutionID, SpellID: rec.ID,
			Status: status, ErrorCode: rec.ErrorCode,
			CreatedAt: rec.StartedAt, UpdatedAt: rec.FinishedAt,
		}
	}
	return nil
}

// Put inserts or replaces a record and persists the whole index atomically.
func (fs *FileStore) Put(rec *Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	fs.records[rec.ExecutionID] = rec
	return fs.saveLocked()
}

func (fs *FileStore) Get(executionID string) (*Record, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	r, ok := fs.records[executionID]
	return r, ok, nil
}

func (fs *FileStore) FindByIdempotencyKey(tenantID, key string) (*Record, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var oldest *Record
	for _, r := range fs.records {
		if r.IdempotencyKey == key && r.TenantID == tenantID {
			if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
				oldest = r
			}
		}
	}
	return oldest, oldest != nil, nil
}

func (fs *FileStore) List(f Filter) ([]*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var out []*Record
	for _, r := range fs.records {
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		if f.ButtonID != "" && r.ButtonID != f.ButtonID {
			continue
		}
		if f.SpellID != "" && r.SpellID != f.SpellID {
			continue
		}
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if f.From != nil && r.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Prune drops the oldest records beyond maxFiles and/or older than
// retentionDays, persisting the trimmed index.
func (fs *FileStore) Prune(maxFiles, retentionDays int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var all []*Record
	for _, r := range fs.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	cutoff := time.Time{}
	if retentionDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -retentionDays)
	}

	kept := map[string]*Record{}
	for i, r := range all {
		if maxFiles > 0 && i >= maxFiles {
			continue
		}
		if !cutoff.IsZero() && r.CreatedAt.Before(cutoff) {
			continue
		}
		kept[r.ExecutionID] = r
	}
	fs.records = kept
	return fs.saveLocked()
}

func (fs *FileStore) saveLocked() error {
	var all []*Record
	for _, r := range fs.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	dir := filepath.Join(fs.home, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	dest := fs.indexPath()
	tmp := fmt.Sprintf("%s.%d.tmp", dest, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
