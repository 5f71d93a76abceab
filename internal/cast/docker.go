package cast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/receipt"
)

// dockerRunResult is the JSON shape the containerized scheduler invocation
// is expected to print to stdout: the same step/output/rollback data the
// host scheduler produces directly.
type dockerRunResult struct {
	Steps    []receipt.StepResult      `json:"steps"`
	Outputs  map[string]any            `json:"outputs"`
	Rollback *receipt.RollbackSummary  `json:"rollback,omitempty"`
	Success  bool                      `json:"success"`
	Error    string                    `json:"error,omitempty"`
}

// runInDocker re-invokes the same step execution inside `docker run`,
// mounting the bundle read-only and passing the input as INPUT_JSON, per
// §4.10 step 11's docker branch. The containerized entrypoint is expected
// to run this same bundle's steps and print a dockerRunResult as its sole
// line of stdout.
func runInDocker(ctx context.Context, m *manifest.Manifest, bundlePath string, input map[string]any, deadline time.Duration) (dockerRunResult, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return dockerRunResult{}, fmt.Errorf("cast: encoding docker input: %w", err)
	}

	runCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	args := []string{
		"run", "--rm",
		"-v", bundlePath + ":/bundle:ro",
		"-e", "INPUT_JSON=" + string(inputJSON),
		"-w", "/bundle",
		m.Runtime.DockerImage,
	}
	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return dockerRunResult{}, fmt.Errorf("cast: docker runner failed: %w: %s", err, stderr.String())
	}

	var result dockerRunResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return dockerRunResult{}, fmt.Errorf("cast: parsing docker runner output: %w", err)
	}
	return result, nil
}
