package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/receipt"
	"github.com/spellruntime/spell/internal/scheduler"
)

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell scripts")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return name
}

func TestRunSimpleChain(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	prepare := writeScript(t, dir, "prepare.sh", "echo prepared")
	deploy := writeScript(t, dir, "deploy.sh", "echo deployed")

	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Uses: manifest.UsesShell, Name: "prepare", Run: prepare},
			{Uses: manifest.UsesShell, Name: "deploy", Run: deploy, DependsOn: []string{"prepare"}},
		},
	}

	res := scheduler.Run(context.Background(), scheduler.Options{BundlePath: dir, Manifest: m})
	require.NoError(t, res.Err)
	require.Len(t, res.Steps, 2)
	require.Equal(t, "prepare", res.Steps[0].StepName)
	require.Equal(t, "deploy", res.Steps[1].StepName)
	require.Nil(t, res.Rollback)
}

func TestRunDeadlockOnMissingDependency(t *testing.T) {
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Uses: manifest.UsesShell, Name: "only", Run: "x.sh", DependsOn: []string{"ghost"}},
		},
	}
	res := scheduler.Run(context.Background(), scheduler.Options{BundlePath: t.TempDir(), Manifest: m})
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "step dependency deadlock")
}

func TestRunBatchAllSettleBeforeRollback(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	ok1 := writeScript(t, dir, "ok1.sh", "sleep 0.05; echo ok1")
	fail := writeScript(t, dir, "fail.sh", "exit 1")
	rollbackOk1 := writeScript(t, dir, "rollback_ok1.sh", "echo rolled-back-ok1")

	m := &manifest.Manifest{
		Runtime: manifest.Runtime{MaxParallelSteps: 2},
		Steps: []manifest.Step{
			{Uses: manifest.UsesShell, Name: "ok1", Run: ok1, Rollback: rollbackOk1},
			{Uses: manifest.UsesShell, Name: "fail", Run: fail},
		},
	}

	res := scheduler.Run(context.Background(), scheduler.Options{BundlePath: dir, Manifest: m})
	require.Error(t, res.Err)
	// Both batch members settle (produce a StepResult) even though one failed.
	names := map[string]bool{}
	for _, s := range res.Steps {
		names[s.StepName] = true
	}
	require.True(t, names["ok1"])
	require.True(t, names["fail"])
	require.True(t, names["rollback.ok1"])
	require.NotNil(t, res.Rollback)
	require.Equal(t, receipt.RollbackFullyCompensated, res.Rollback.State)
}

func TestRunSkipsByCondition(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "maybe.sh", "echo should-not-run")

	eq := any("enabled")
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{
				Uses: manifest.UsesShell, Name: "maybe", Run: script,
				When: &manifest.When{InputPath: "mode", NotEquals: &eq},
			},
		},
	}

	res := scheduler.Run(context.Background(), scheduler.Options{
		BundlePath: dir, Manifest: m, Input: map[string]any{"mode": "enabled"},
	})
	require.NoError(t, res.Err)
	require.Len(t, res.Steps, 1)
	require.Equal(t, "skipped by condition", res.Steps[0].Message)
}

func TestRunRetriesBeforeSucceeding(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempts")
	script := writeScript(t, dir, "flaky.sh",
		"n=0; [ -f "+marker+" ] && n=$(cat "+marker+"); n=$((n+1)); echo $n > "+marker+"; if [ $n -lt 2 ]; then exit 1; fi; echo done")

	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{
				Uses: manifest.UsesShell, Name: "flaky", Run: script,
				Retry: &manifest.Retry{MaxAttempts: 3, BackoffMs: 1},
			},
		},
	}

	res := scheduler.Run(context.Background(), scheduler.Options{BundlePath: dir, Manifest: m})
	require.NoError(t, res.Err)
	require.Len(t, res.Steps, 1)
	require.True(t, res.Steps[0].Success)
}

func TestRunHonorsExecutionDeadline(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	slow := writeScript(t, dir, "slow.sh", "sleep 1; echo done")

	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Uses: manifest.UsesShell, Name: "slow", Run: slow},
		},
	}

	res := scheduler.Run(context.Background(), scheduler.Options{
		BundlePath:        dir,
		Manifest:          m,
		ExecutionDeadline: time.Now().Add(30 * time.Millisecond),
		ExecutionTimeout:  30 * time.Millisecond,
	})
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "cast execution timed out")
}
