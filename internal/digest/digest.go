// Package digest computes the canonical content digest of an installed
// bundle: spell.yaml, schema.json, and every regular file under steps/.
//
// The algorithm absorbs a fixed domain separator so a digest collision
// against an unrelated SHA-256 use elsewhere in the system is structurally
// impossible, then for every file absorbs "file\0" || relPath || "\0" ||
// contents || "\0" in POSIX-normalized, sorted path order. Symlinks are
// rejected rather than followed or hashed as links, so a bundle cannot hide
// content outside the traversal root.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const domainSeparator = "spell-bundle-v1\x00"

// Manifest files included in every digest in addition to the steps/ tree.
const (
	ManifestFile = "spell.yaml"
	SchemaFile   = "schema.json"
	StepsDir     = "steps"
)

// Digest is the result of digesting a bundle directory.
type Digest struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
	Raw       []byte `json:"-"`
}

// entry is one absorbed file, keyed by its POSIX-normalized relative path.
type entry struct {
	relPath string
	abs     string
}

// Bundle computes the canonical digest of the installed bundle rooted at
// bundlePath. spell.sig.json is never part of the digest, by construction:
// it is not enumerated here and the steps/ walk never crosses back to the
// bundle root.
func Bundle(bundlePath string) (Digest, error) {
	entries, err := collectEntries(bundlePath)
	if err != nil {
		return Digest{}, err
	}

	h := sha256.New()
	h.Write([]byte(domainSeparator))
	for _, e := range entries {
		contents, err := os.ReadFile(e.abs)
		if err != nil {
			return Digest{}, fmt.Errorf("digest: read %s: %w", e.relPath, err)
		}
		h.Write([]byte("file\x00"))
		h.Write([]byte(e.relPath))
		h.Write([]byte{0})
		h.Write(contents)
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)
	return Digest{
		Algorithm: "sha256",
		Hex:       hex.EncodeToString(sum),
		Raw:       sum,
	}, nil
}

func collectEntries(bundlePath string) ([]entry, error) {
	var entries []entry

	for _, name := range []string{ManifestFile, SchemaFile} {
		abs := filepath.Join(bundlePath, name)
		info, err := os.Lstat(abs)
		if err != nil {
			return nil, fmt.Errorf("digest: stat %s: %w", name, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("digest: %s is a symlink, refusing to digest", name)
		}
		entries = append(entries, entry{relPath: name, abs: abs})
	}

	stepsRoot := filepath.Join(bundlePath, StepsDir)
	if _, err := os.Stat(stepsRoot); err == nil {
		walkErr := filepath.WalkDir(stepsRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("digest: symlink found under steps/: %s", path)
			}
			rel, err := filepath.Rel(bundlePath, path)
			if err != nil {
				return err
			}
			entries = append(entries, entry{relPath: toPosix(rel), abs: path})
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("digest: stat steps/: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, nil
}

func toPosix(p string) string {
	return strings.ReplaceAll(p, string(filepath.Separator), "/")
}
