package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/entitlement"
)

func sampleEntitlementToken(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tok, err := entitlement.Sign(priv, entitlement.Claims{
		Issuer: "acme", KeyID: "k1", Mode: "standard", Currency: "usd",
		NotBefore: time.Now().Add(-time.Hour).Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return tok
}

// extractField pulls the value out of a "key: value\n" line printed by the
// CLI's plain-text output.
func extractField(output, key string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, key+": ") {
			return strings.TrimPrefix(line, key+": ")
		}
	}
	return ""
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "USAGE:")
}

func TestRunNoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "spell")
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "nope"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Unknown command: nope")
}

func TestRunSubcommandRequiresArg(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "trust"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Usage: spell trust")
}

func writeFixtureBundle(t *testing.T, srcDir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "steps"), 0o755))
	manifest := "id: acme/demo\n" +
		"version: 1.0.0\n" +
		"name: demo\n" +
		"summary: demo bundle\n" +
		"risk: low\n" +
		"billing:\n  enabled: false\n  mode: none\n  currency: usd\n  max_amount: 0\n" +
		"runtime:\n  execution: host\n  platforms: [\"" + runtime.GOOS + "/" + runtime.GOARCH + "\"]\n" +
		"steps:\n" +
		"  - uses: shell\n    name: hello\n    run: steps/hello.sh\n"
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "spell.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "schema.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "steps", "hello.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))
}

func TestInstallListInspectCast(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	home := t.TempDir()
	src := t.TempDir()
	writeFixtureBundle(t, src)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "install", "--home", home, src}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"spell", "list", "--home", home}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "acme/demo")

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"spell", "inspect", "--home", home, "acme/demo"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "acme/demo")

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"spell", "cast", "--home", home, "--yes", "acme/demo"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "OK")
}

func TestRegistryAddShowResolve(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SPELL_HOME", home)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "registry", "add", "--spell-id", "acme/demo", "--version", "1.0.0", "run-demo"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	code = Run([]string{"spell", "registry", "show"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "run-demo")

	stdout.Reset()
	code = Run([]string{"spell", "registry", "resolve", "--input", `{"env":"prod"}`, "run-demo"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "prod")

	stdout.Reset()
	code = Run([]string{"spell", "registry", "remove", "run-demo"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
}

func TestPolicyShowValidateSet(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SPELL_HOME", home)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "policy", "show"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "version")

	policyFile := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(policyFile, []byte(`{"version":"1","default":"deny"}`), 0o644))

	stdout.Reset()
	code = Run([]string{"spell", "policy", "validate", policyFile}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "default=deny")

	stdout.Reset()
	code = Run([]string{"spell", "policy", "set", "--file", policyFile}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
}

func TestLicenseAddListRevokeRestore(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SPELL_HOME", home)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "license", "add", "--token", sampleEntitlementToken(t), "acme"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	code = Run([]string{"spell", "license", "list"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "acme")

	stdout.Reset()
	code = Run([]string{"spell", "license", "revoke", "--reason", "test", "acme"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	code = Run([]string{"spell", "license", "restore", "acme"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
}

func TestTrustKeygenAddListInspect(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SPELL_HOME", home)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spell", "sign", "keygen", "--key-id", "k1"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "public_key")

	pubKey := extractField(stdout.String(), "public_key")
	require.NotEmpty(t, pubKey)

	stdout.Reset()
	code = Run([]string{"spell", "trust", "add", "--key-id", "k1", "--public-key", pubKey, "acme"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	code = Run([]string{"spell", "trust", "list"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "acme")

	stdout.Reset()
	code = Run([]string{"spell", "trust", "inspect", "acme"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "k1")
}
