// Package stepexec implements the shell and http step executors of §4.6.
//
// Grounded on bartekus-stagecraft/pkg/executil/executil.go's
// exec.CommandContext usage and *exec.ExitError handling (the chosen teacher
// has no generic shell-runner of its own), adapted to the spec's exact
// stdout/stderr truncation and timeout-signaling contract.
package stepexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

const headLimit = 200

// ShellResult is the outcome of running one shell step. Stdout/Stderr carry
// the full captured output, for templating (§4.9's `step.<name>.stdout`
// output reference); StdoutHead/StderrHead carry the ≤200-char heads stored
// on the receipt's StepResult (§3).
type ShellResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	StdoutHead string
	StderrHead string
	TimedOut   bool
}

// RunShell spawns run with shell=false, cwd=bundleRoot, inherited env
// augmented with INPUT_JSON. It honors an optional maxDuration by sending
// SIGKILL to the process group on expiry.
func RunShell(ctx context.Context, stepName, run, bundleRoot string, env []string, input map[string]any, maxDuration time.Duration) (ShellResult, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return ShellResult{}, fmt.Errorf("step %s: encoding INPUT_JSON: %w", stepName, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if maxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, run)
	cmd.Dir = bundleRoot
	cmd.Env = append(append([]string{}, env...), "INPUT_JSON="+string(inputJSON))
	cmd.SysProcAttr = killableProcAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	outStr, errStr := stdout.String(), stderr.String()

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		return ShellResult{Stdout: outStr, Stderr: errStr, StdoutHead: truncate(outStr), StderrHead: truncate(errStr), TimedOut: true},
			fmt.Errorf("shell step '%s' timed out after %dms", stepName, maxDuration.Milliseconds())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errorsAs(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ShellResult{Stdout: outStr, Stderr: errStr, StdoutHead: truncate(outStr), StderrHead: truncate(errStr)},
				fmt.Errorf("step %s: spawn failed: %w", stepName, runErr)
		}
	}

	result := ShellResult{ExitCode: exitCode, Stdout: outStr, Stderr: errStr, StdoutHead: truncate(outStr), StderrHead: truncate(errStr)}
	if exitCode != 0 {
		return result, fmt.Errorf("step failed: %s (exit code %d)", stepName, exitCode)
	}
	return result, nil
}

func truncate(s string) string {
	if len(s) <= headLimit {
		return s
	}
	return s[:headLimit]
}

// errorsAs is a tiny indirection so this file stays readable without a
// direct "errors" import collision with the local err variable naming.
func errorsAs(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
