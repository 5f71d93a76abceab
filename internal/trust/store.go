// Package trust implements the publisher trust store and bundle signature
// verification.
//
// Grounded on the teacher's pkg/trust/pack_loader.go: verification proceeds
// as a sequence of named, fail-closed steps, and revoked keys are retained
// (for audit) rather than deleted, per pkg/trust/pack_loader.go's
// KeyStatusStore/QuarantineOverride shape — simplified here to the spec's
// fixed revoke/restore vocabulary with no quarantine override, since the
// bundle-runtime spec has no certified-pack delegation concept to gate one.
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Key is one publisher signing key on record.
type Key struct {
	KeyID        string     `json:"key_id"`
	Algorithm    string     `json:"algorithm"`
	PublicKey    string     `json:"public_key"` // SPKI DER, base64url
	Revoked      bool       `json:"revoked,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Fingerprint returns a short, stable fingerprint of the DER SPKI bytes
// suitable for human inspection (trust list/inspect CLI commands).
func (k Key) Fingerprint() string {
	if len(k.PublicKey) <= 12 {
		return k.PublicKey
	}
	return k.PublicKey[:6] + "..." + k.PublicKey[len(k.PublicKey)-6:]
}

// Record is the on-disk shape of trust/<publisher>.json.
type Record struct {
	Publisher string `json:"publisher"`
	Keys      []Key  `json:"keys"`
}

// Store persists one JSON file per publisher, as root/<publisher>.json.
type Store struct {
	root string
}

// NewStore opens a trust store rooted at the given directory (typically
// ~/.spell/trust).
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(publisher string) string {
	return filepath.Join(s.root, publisher+".json")
}

// Load returns the trust record for publisher, or nil if none exists.
// Legacy records missing the revoked fields are accepted and their keys
// treated as active, since the zero value of Revoked is already false.
func (s *Store) Load(publisher string) (*Record, error) {
	data, err := os.ReadFile(s.path(publisher))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: load %s: %w", publisher, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("trust: parse %s: %w", publisher, err)
	}
	return &rec, nil
}

// Upsert adds or replaces a key for a publisher.
func (s *Store) Upsert(publisher string, key Key) error {
	rec, err := s.Load(publisher)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Publisher: publisher}
	}
	replaced := false
	for i, k := range rec.Keys {
		if k.KeyID == key.KeyID {
			rec.Keys[i] = key
			replaced = true
			break
		}
	}
	if !replaced {
		rec.Keys = append(rec.Keys, key)
	}
	return s.save(rec)
}

// Revoke marks a key revoked. Revoked keys are kept for audit but fail
// signature verification.
func (s *Store) Revoke(publisher, keyID, reason string) error {
	rec, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	found := false
	for i := range rec.Keys {
		if rec.Keys[i].KeyID == keyID {
			rec.Keys[i].Revoked = true
			rec.Keys[i].RevokedAt = &now
			rec.Keys[i].RevokeReason = reason
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("trust: key %s not found for publisher %s", keyID, publisher)
	}
	return s.save(rec)
}

// Restore clears a key's revoked status.
func (s *Store) Restore(publisher, keyID string) error {
	rec, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	found := false
	for i := range rec.Keys {
		if rec.Keys[i].KeyID == keyID {
			rec.Keys[i].Revoked = false
			rec.Keys[i].RevokedAt = nil
			rec.Keys[i].RevokeReason = ""
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("trust: key %s not found for publisher %s", keyID, publisher)
	}
	return s.save(rec)
}

// Remove deletes a key outright; if that empties the publisher's key list,
// the publisher file itself is removed.
func (s *Store) Remove(publisher, keyID string) error {
	rec, err := s.mustLoad(publisher)
	if err != nil {
		return err
	}
	kept := rec.Keys[:0]
	for _, k := range rec.Keys {
		if k.KeyID != keyID {
			kept = append(kept, k)
		}
	}
	if len(kept) == len(rec.Keys) {
		return fmt.Errorf("trust: key %s not found for publisher %s", keyID, publisher)
	}
	rec.Keys = kept
	if len(rec.Keys) == 0 {
		return os.Remove(s.path(publisher))
	}
	return s.save(rec)
}

// List returns all publisher names with a trust record, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var publishers []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		publishers = append(publishers, e.Name()[:len(e.Name())-len(".json")])
	}
	sort.Strings(publishers)
	return publishers, nil
}

func (s *Store) mustLoad(publisher string) (*Record, error) {
	rec, err := s.Load(publisher)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("trust: no trust record for publisher %s", publisher)
	}
	return rec, nil
}

// save writes the record atomically: temp file in the same directory, then
// rename over the destination. Grounded on
// bartekus-stagecraft/internal/core/state/state.go's saveState().
func (s *Store) save(rec *Record) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("trust: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	dest := s.path(rec.Publisher)
	tmp := fmt.Sprintf("%s.%d.tmp", dest, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("trust: write temp: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("trust: rename: %w", err)
	}
	return nil
}
