package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*/[a-z0-9][a-z0-9-]*$`)

// Load reads and validates spell.yaml from the given bundle directory.
func Load(bundlePath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundlePath, "spell.yaml"))
	if err != nil {
		return nil, fmt.Errorf("manifest: reading spell.yaml: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing spell.yaml: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's structural invariants: id is a slashed
// publisher/name, version is a valid, ordered semver, step names are unique,
// and depends_on only references step names declared in the manifest (in any
// position; dependency cycles are reported by the scheduler as a deadlock).
func Validate(m *Manifest) error {
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("manifest: id %q must be of the form publisher/name", m.ID)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest: version %q is not valid semver: %w", m.Version, err)
	}

	seen := make(map[string]bool, len(m.Steps))
	for _, s := range m.Steps {
		if s.Name == "" {
			return fmt.Errorf("manifest: step with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("manifest: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Uses != UsesShell && s.Uses != UsesHTTP {
			return fmt.Errorf("manifest: step %q has unsupported uses %q", s.Name, s.Uses)
		}
	}
	for _, s := range m.Steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("manifest: step %q depends_on unknown step %q", s.Name, dep)
			}
		}
	}
	return nil
}

// Publisher returns the publisher segment of the manifest's id.
func (m *Manifest) Publisher() string {
	for i, c := range m.ID {
		if c == '/' {
			return m.ID[:i]
		}
	}
	return m.ID
}

// CompareVersions orders two semver strings; used when resolving an
// installed bundle to pick its latest installed version.
func CompareVersions(a, b string) (int, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
