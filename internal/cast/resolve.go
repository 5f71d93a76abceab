// Package cast implements the cast orchestrator of §4.10: the gated
// sequence that turns a `cast <id>` invocation into a scheduler run and an
// always-written execution receipt.
//
// Grounded directly on pkg/executor/executor.go's SafeExecutor.Execute
// gated sequence (idempotency -> gating -> snapshot/hash verify -> policy ->
// schedule -> execute -> validate outputs -> always-record), generalized
// from a single effect dispatch to this system's 13-step cast sequence.
package cast

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spellruntime/spell/internal/manifest"
)

// ResolvedBundle is an installed bundle located on disk.
type ResolvedBundle struct {
	Manifest   *manifest.Manifest
	BundlePath string
}

// sanitizeIDSegment replaces characters the filesystem layout can't carry
// directly (a manifest id is "publisher/name").
func sanitizeIDSegment(s string) string {
	return strings.ReplaceAll(s, "/", "__")
}

// ResolveInstalled locates an installed bundle under home/spells/<idKey>/<version>.
// An empty version resolves to the highest installed semver.
func ResolveInstalled(home, id, version string) (ResolvedBundle, error) {
	root := filepath.Join(home, "spells", sanitizeIDSegment(id))
	if version == "" {
		v, err := latestVersion(root)
		if err != nil {
			return ResolvedBundle{}, err
		}
		version = v
	}
	bundlePath := filepath.Join(root, version)
	if _, err := os.Stat(bundlePath); err != nil {
		return ResolvedBundle{}, fmt.Errorf("cast: bundle %s@%s is not installed", id, version)
	}
	m, err := manifest.Load(bundlePath)
	if err != nil {
		return ResolvedBundle{}, err
	}
	return ResolvedBundle{Manifest: m, BundlePath: bundlePath}, nil
}

func latestVersion(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("cast: no installed versions under %s: %w", root, err)
	}
	var best string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if best == "" {
			best = e.Name()
			continue
		}
		cmp, err := manifest.CompareVersions(e.Name(), best)
		if err == nil && cmp > 0 {
			best = e.Name()
		}
	}
	if best == "" {
		return "", fmt.Errorf("cast: no installed versions under %s", root)
	}
	return best, nil
}
