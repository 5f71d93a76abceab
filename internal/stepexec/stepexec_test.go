package stepexec_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/stepexec"
)

func TestRunShellSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "hello.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hello\n"), 0o755))

	res, err := stepexec.RunShell(context.Background(), "hello", script, dir, os.Environ(), map[string]any{"x": 1}, 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hello")
}

func TestRunShellFailureExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755))

	_, err := stepexec.RunShell(context.Background(), "fail", script, dir, os.Environ(), nil, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exit code 3")
}

func TestRunShellTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "slow.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 1\n"), 0o755))

	_, err := stepexec.RunShell(context.Background(), "slow", script, dir, os.Environ(), nil, 10*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestRunHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	dir := t.TempDir()
	spec := map[string]any{"method": "GET", "url": srv.URL + "/{{INPUT.path}}"}
	raw, _ := json.Marshal(spec)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "call.json"), raw, 0o644))

	res, err := stepexec.RunHTTP(context.Background(), "call", "call.json", dir, nil, map[string]any{"path": "ping"})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	body, ok := res.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, body["ok"])
}
