// Package scheduler implements the step DAG scheduler (§4.7) and the
// reverse-order rollback planner (§4.8).
//
// Grounded on bartekus-stagecraft/pkg/engine/slice.go's
// stable-sort-by-index-then-id discipline for deterministic batch ordering,
// and on the teacher's pkg/executor/executor.go's gated, always-record
// execution shape for the retry/deadline/rollback bookkeeping.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/receipt"
	"github.com/spellruntime/spell/internal/stepexec"
	"github.com/spellruntime/spell/internal/template"
)

// Options configures one scheduler run.
type Options struct {
	BundlePath        string
	Manifest          *manifest.Manifest
	Input             map[string]any
	Env               map[string]string
	ExecutionDeadline time.Time // zero means no deadline
	ExecutionTimeout  time.Duration
}

// Result is the scheduler's output: the step results produced (batch by
// batch, in manifest order within each batch), the accumulated outputs, and — if a
// failure occurred — the rollback summary.
type Result struct {
	Steps    []receipt.StepResult
	Outputs  template.Outputs
	Rollback *receipt.RollbackSummary
	Err      error
}

type namedStep struct {
	index int
	step  manifest.Step
}

// Run executes the manifest's step DAG to completion or failure.
func Run(ctx context.Context, opts Options) Result {
	outputs := template.Outputs{}
	pending := make(map[string]namedStep, len(opts.Manifest.Steps))
	for i, s := range opts.Manifest.Steps {
		pending[s.Name] = namedStep{index: i, step: s}
	}
	completed := make(map[string]bool, len(pending))

	var allResults []receipt.StepResult
	var executed []manifest.Step // actually-attempted steps, in execution order, for rollback
	var failure error

	batchSize := opts.Manifest.Runtime.MaxParallelSteps
	if batchSize <= 0 {
		batchSize = 1
	}

	for len(pending) > 0 && failure == nil {
		ready := readySteps(pending, completed)
		if len(ready) == 0 {
			failure = fmt.Errorf("step dependency deadlock: %s", joinNames(pending))
			break
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })

		for start := 0; start < len(ready) && failure == nil; start += batchSize {
			end := start + batchSize
			if end > len(ready) {
				end = len(ready)
			}
			batch := ready[start:end]

			if remaining, ok := remainingTime(opts.ExecutionDeadline); ok && remaining <= 0 {
				failure = fmt.Errorf("cast execution timed out after %dms while running step '%s'",
					opts.ExecutionTimeout.Milliseconds(), batch[0].step.Name)
				break
			}

			results := runBatch(ctx, opts, batch, outputs)

			// All members of the batch settle before we react to any
			// failure, so every concurrent sibling still produces a
			// StepResult before rollback begins.
			for _, r := range results {
				allResults = append(allResults, r.result)
				delete(pending, r.step.Name)
				completed[r.step.Name] = true
				if r.attempted {
					executed = append(executed, r.step)
				}
				if r.result.Success && r.outputValue != nil {
					applyOutput(outputs, r.step, r.outputValue)
				}
				if !r.result.Success && failure == nil {
					failure = fmt.Errorf("%s", r.result.Message)
				}
			}
		}
	}

	res := Result{Steps: allResults, Outputs: outputs, Err: failure}
	if failure != nil {
		rollbackResults, summary := planRollback(ctx, opts, executed)
		res.Steps = append(res.Steps, rollbackResults...)
		res.Rollback = summary
	}
	return res
}

func readySteps(pending map[string]namedStep, completed map[string]bool) []namedStep {
	var ready []namedStep
	for _, ns := range pending {
		ok := true
		for _, dep := range ns.step.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, ns)
		}
	}
	return ready
}

func joinNames(pending map[string]namedStep) string {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func remainingTime(deadline time.Time) (time.Duration, bool) {
	if deadline.IsZero() {
		return 0, false
	}
	return time.Until(deadline), true
}

func applyOutput(outputs template.Outputs, step manifest.Step, value any) {
	switch step.Uses {
	case manifest.UsesShell:
		if s, ok := value.(string); ok {
			outputs.SetStdout(step.Name, s)
		}
	case manifest.UsesHTTP:
		outputs.SetJSON(step.Name, value)
	}
}

type batchOutcome struct {
	step        manifest.Step
	result      receipt.StepResult
	attempted   bool
	outputValue any
}

func runBatch(ctx context.Context, opts Options, batch []namedStep, outputs template.Outputs) []batchOutcome {
	results := make([]batchOutcome, len(batch))
	var wg sync.WaitGroup
	for i, ns := range batch {
		i, ns := i, ns
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runOneStep(ctx, opts, ns.step, outputs)
		}()
	}
	wg.Wait()
	return results
}

func runOneStep(ctx context.Context, opts Options, step manifest.Step, outputs template.Outputs) batchOutcome {
	started := time.Now()

	if step.When != nil {
		cond := template.Condition{
			InputPath:  step.When.InputPath,
			OutputPath: step.When.OutputPath,
			Equals:     step.When.Equals,
			NotEquals:  step.When.NotEquals,
		}
		if template.ShouldSkip(cond, opts.Input, outputs) {
			return batchOutcome{
				step: step,
				result: receipt.StepResult{
					StepName: step.Name, Uses: string(step.Uses),
					StartedAt: started, FinishedAt: time.Now(),
					Success: true, Message: "skipped by condition",
				},
			}
		}
	}

	maxAttempts := 1
	backoffMs := 0
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoffMs = step.Retry.BackoffMs
	}

	var lastResult receipt.StepResult
	var lastOutput any
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if remaining, ok := remainingTime(opts.ExecutionDeadline); ok && remaining <= 0 {
			return batchOutcome{
				step: step, attempted: true,
				result: receipt.StepResult{
					StepName: step.Name, Uses: string(step.Uses),
					StartedAt: started, FinishedAt: time.Now(), Success: false,
					Message: fmt.Sprintf("cast execution timed out after %dms while running step '%s'",
						opts.ExecutionTimeout.Milliseconds(), step.Name),
				},
			}
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if remaining, ok := remainingTime(opts.ExecutionDeadline); ok {
			stepCtx, cancel = context.WithTimeout(ctx, remaining)
		}

		success, output, stepResult := execStepOnce(stepCtx, opts, step, started)
		if cancel != nil {
			cancel()
		}
		lastResult = stepResult
		lastOutput = output

		if success {
			return batchOutcome{step: step, attempted: true, result: lastResult, outputValue: lastOutput}
		}

		if remaining, ok := remainingTime(opts.ExecutionDeadline); ok && remaining <= 0 {
			lastResult.Message = fmt.Sprintf("cast execution timed out after %dms while running step '%s'",
				opts.ExecutionTimeout.Milliseconds(), step.Name)
			break
		}

		if attempt < maxAttempts {
			remaining, hasDeadline := remainingTime(opts.ExecutionDeadline)
			backoff := time.Duration(backoffMs) * time.Millisecond
			if hasDeadline && remaining < backoff {
				lastResult.Message = fmt.Sprintf("cast execution timed out after %dms while running step '%s'",
					opts.ExecutionTimeout.Milliseconds(), step.Name)
				break
			}
			lastResult.Message = fmt.Sprintf("%s (attempt %d/%d)", lastResult.Message, attempt, maxAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		// Final attempt: message left deterministic, without annotation.
	}

	return batchOutcome{step: step, attempted: true, result: lastResult, outputValue: lastOutput}
}

func execStepOnce(ctx context.Context, opts Options, step manifest.Step, started time.Time) (bool, any, receipt.StepResult) {
	switch step.Uses {
	case manifest.UsesShell:
		maxDuration := time.Duration(step.MaxDuration) * time.Millisecond
		runPath := filepath.Join(opts.BundlePath, step.Run)
		res, err := stepexec.RunShell(ctx, step.Name, runPath, opts.BundlePath, envSlice(opts.Env), opts.Input, maxDuration)
		exitCode := res.ExitCode
		message := "ok"
		if err != nil {
			message = err.Error()
		}
		return err == nil, res.Stdout, receipt.StepResult{
			StepName: step.Name, Uses: string(step.Uses),
			StartedAt: started, FinishedAt: time.Now(),
			Success: err == nil, ExitCode: &exitCode,
			StdoutHead: res.StdoutHead, StderrHead: res.StderrHead, Message: message,
		}
	case manifest.UsesHTTP:
		res, err := stepexec.RunHTTP(ctx, step.Name, step.Run, opts.BundlePath, opts.Env, opts.Input)
		message := "ok"
		if err != nil {
			message = err.Error()
		}
		return err == nil, res.Body, receipt.StepResult{
			StepName: step.Name, Uses: string(step.Uses),
			StartedAt: started, FinishedAt: time.Now(),
			Success: err == nil, Message: message,
		}
	default:
		return false, nil, receipt.StepResult{
			StepName: step.Name, Uses: string(step.Uses),
			StartedAt: started, FinishedAt: time.Now(), Success: false,
			Message: fmt.Sprintf("unsupported step kind %q", step.Uses),
		}
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
