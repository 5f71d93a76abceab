package apiserver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEntry is one line of the append-only tenant audit log.
type AuditEntry struct {
	Time        time.Time `json:"time"`
	TenantID    string    `json:"tenant_id"`
	ActorRole   string    `json:"actor_role"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ButtonID    string    `json:"button_id,omitempty"`
	Action      string    `json:"action"`
	Detail      string    `json:"detail,omitempty"`
}

// AuditLog is an append-only JSONL file, one line per tenant-visible state
// transition, grounded on pkg/crypto/audit.go's FileAuditLog.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (creating if needed) logs/tenant-audit.jsonl under home.
func NewAuditLog(home string) (*AuditLog, error) {
	dir := filepath.Join(home, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "tenant-audit.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("apiserver: opening audit log: %w", err)
	}
	return &AuditLog{file: f}, nil
}

// Append writes one audit entry, best-effort flushed immediately.
func (a *AuditLog) Append(entry AuditEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.file.Write(line)
}

// Close releases the underlying file handle.
func (a *AuditLog) Close() error {
	return a.file.Close()
}
