package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/manifest"
)

const sampleYAML = `
id: acme/hello
version: 1.0.0
name: Hello
summary: says hello
risk: low
billing:
  enabled: false
  mode: none
  currency: USD
  max_amount: 0
runtime:
  execution: host
  platforms: [linux/amd64, darwin/arm64]
steps:
  - uses: shell
    name: hello
    run: steps/hello.sh
`

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spell.yaml"), []byte(sampleYAML), 0o644))

	m, err := manifest.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "acme/hello", m.ID)
	require.Equal(t, "acme", m.Publisher())
	require.Len(t, m.Steps, 1)
}

func TestLoadRejectsBadID(t *testing.T) {
	dir := t.TempDir()
	bad := `
id: not-a-slash-id
version: 1.0.0
risk: low
billing: {enabled: false, mode: none, currency: USD, max_amount: 0}
runtime: {execution: host, platforms: [linux/amd64]}
steps: []
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spell.yaml"), []byte(bad), 0o644))
	_, err := manifest.Load(dir)
	require.Error(t, err)
}

func TestLoadRejectsDanglingDependsOn(t *testing.T) {
	dir := t.TempDir()
	bad := `
id: acme/hello
version: 1.0.0
risk: low
billing: {enabled: false, mode: none, currency: USD, max_amount: 0}
runtime: {execution: host, platforms: [linux/amd64]}
steps:
  - uses: shell
    name: a
    run: steps/a.sh
    depends_on: [missing]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spell.yaml"), []byte(bad), 0o644))
	_, err := manifest.Load(dir)
	require.Error(t, err)
}

func TestValidateInputSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.json"), []byte(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`), 0o644))

	require.NoError(t, manifest.ValidateInput(dir, map[string]any{"name": "world"}))
	require.Error(t, manifest.ValidateInput(dir, map[string]any{}))
}
