package cast_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/cast"
	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/trust"
)

func hostPlatform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func installSampleBundle(t *testing.T, home, risk string) {
	t.Helper()
	bundleDir := filepath.Join(home, "spells", "acme__demo", "1.0.0")
	require.NoError(t, os.MkdirAll(filepath.Join(bundleDir, "steps"), 0o755))

	manifestYAML := "id: acme/demo\n" +
		"version: 1.0.0\n" +
		"name: demo\n" +
		"summary: demo bundle\n" +
		"risk: " + risk + "\n" +
		"billing:\n  enabled: false\n  mode: none\n  currency: usd\n  max_amount: 0\n" +
		"runtime:\n  execution: host\n  platforms: [\"" + hostPlatform() + "\"]\n" +
		"steps:\n" +
		"  - uses: shell\n    name: hello\n    run: steps/hello.sh\n"

	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "spell.yaml"), []byte(manifestYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "schema.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "steps", "hello.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))
}

func baseOptions(t *testing.T, home string) cast.Options {
	return cast.Options{
		Home:         home,
		ID:           "acme/demo",
		Version:      "1.0.0",
		TrustStore:   trust.NewStore(filepath.Join(home, "trust")),
		LicenseStore: entitlement.NewLicenseStore(filepath.Join(home, "licenses")),
		Env:          map[string]string{},
	}
}

func TestCastDryRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	home := t.TempDir()
	installSampleBundle(t, home, "low")

	opts := baseOptions(t, home)
	opts.DryRun = true

	rec, err := cast.Cast(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Empty(t, rec.Steps)

	data, err := os.ReadFile(filepath.Join(home, "logs", rec.ExecutionID+".json"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, true, decoded["success"])
}

func TestCastHappyPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	home := t.TempDir()
	installSampleBundle(t, home, "low")

	rec, err := cast.Cast(context.Background(), baseOptions(t, home))
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Len(t, rec.Steps, 1)
	require.Equal(t, "hello", rec.Steps[0].StepName)
	require.Contains(t, rec.Outputs, "step.hello.stdout")
}

func TestCastRiskGateRequiresYes(t *testing.T) {
	home := t.TempDir()
	installSampleBundle(t, home, "critical")

	_, err := cast.Cast(context.Background(), baseOptions(t, home))
	require.Error(t, err)
	ge, ok := err.(*cast.GateError)
	require.True(t, ok)
	require.Equal(t, "RISK_CONFIRMATION_REQUIRED", ge.Code)
}

func TestCastRiskGatePassesWithYes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	home := t.TempDir()
	installSampleBundle(t, home, "critical")

	opts := baseOptions(t, home)
	opts.Yes = true
	rec, err := cast.Cast(context.Background(), opts)
	require.NoError(t, err)
	require.True(t, rec.Success)
}

func TestCastPlatformMismatch(t *testing.T) {
	home := t.TempDir()
	bundleDir := filepath.Join(home, "spells", "acme__demo", "1.0.0")
	require.NoError(t, os.MkdirAll(filepath.Join(bundleDir, "steps"), 0o755))
	manifestYAML := "id: acme/demo\nversion: 1.0.0\nname: demo\nsummary: x\nrisk: low\n" +
		"billing:\n  enabled: false\n  mode: none\n  currency: usd\n  max_amount: 0\n" +
		"runtime:\n  execution: host\n  platforms: [\"plan9/386\"]\n" +
		"steps:\n  - uses: shell\n    name: hello\n    run: steps/hello.sh\n"
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "spell.yaml"), []byte(manifestYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "schema.json"), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "steps", "hello.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))

	_, err := cast.Cast(context.Background(), baseOptions(t, home))
	require.Error(t, err)
	ge, ok := err.(*cast.GateError)
	require.True(t, ok)
	require.Equal(t, "PLATFORM_MISMATCH", ge.Code)
}
