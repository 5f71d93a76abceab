package scheduler

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/receipt"
	"github.com/spellruntime/spell/internal/stepexec"
)

// planRollback walks the actually-executed steps in reverse and runs each
// declared rollback path as a synthetic "rollback.<name>" shell step. Every
// planned rollback is attempted regardless of whether an earlier one failed;
// only an exhausted execution deadline stops the walk early, and anything
// left unattempted at that point is recorded as timed out.
func planRollback(ctx context.Context, opts Options, executed []manifest.Step) ([]receipt.StepResult, *receipt.RollbackSummary) {
	summary := &receipt.RollbackSummary{TotalExecuted: len(executed)}
	if len(executed) == 0 {
		summary.State = receipt.RollbackNotNeeded
		return nil, summary
	}

	var results []receipt.StepResult
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		if step.Rollback == "" {
			summary.RollbackSkippedWithoutHandler++
			continue
		}
		summary.RollbackPlanned++

		if remaining, ok := remainingTime(opts.ExecutionDeadline); ok && remaining <= 0 {
			summary.RollbackFailed++
			summary.FailedRollbackSteps = append(summary.FailedRollbackSteps, step.Name)
			results = append(results, receipt.StepResult{
				StepName: "rollback." + step.Name, Uses: string(manifest.UsesShell),
				StartedAt: time.Now(), FinishedAt: time.Now(), Success: false,
				Message: "rollback step '" + step.Name + "' not attempted: execution deadline exceeded",
			})
			continue
		}

		summary.RollbackAttempted++
		started := time.Now()
		runPath := filepath.Join(opts.BundlePath, step.Rollback)
		res, err := stepexec.RunShell(ctx, "rollback."+step.Name, runPath, opts.BundlePath,
			envSlice(opts.Env), opts.Input, 0)

		exitCode := res.ExitCode
		success := err == nil
		message := "ok"
		if err != nil {
			message = err.Error()
			summary.RollbackFailed++
			summary.FailedRollbackSteps = append(summary.FailedRollbackSteps, step.Name)
		} else {
			summary.RollbackSucceeded++
		}

		results = append(results, receipt.StepResult{
			StepName: "rollback." + step.Name, Uses: string(manifest.UsesShell),
			StartedAt: started, FinishedAt: time.Now(), Success: success,
			ExitCode: &exitCode, StdoutHead: res.StdoutHead, StderrHead: res.StderrHead, Message: message,
		})
	}

	switch {
	case summary.RollbackPlanned == 0:
		summary.State = receipt.RollbackNotNeeded
	case summary.RollbackFailed == 0:
		summary.State = receipt.RollbackFullyCompensated
	case summary.RollbackSucceeded > 0:
		summary.State = receipt.RollbackPartiallyCompensated
	default:
		summary.State = receipt.RollbackNotCompensated
	}

	return results, summary
}

// ApplyPolicyEscalation implements the post-processing rule of §4.8: when
// the policy requires full compensation and the rollback fell short, the
// receipt is escalated to a failed, manually-recoverable state.
func ApplyPolicyEscalation(summary *receipt.RollbackSummary, requireFullCompensation bool) (escalate bool) {
	if summary == nil || !requireFullCompensation {
		return false
	}
	if summary.State == receipt.RollbackFullyCompensated || summary.State == receipt.RollbackNotNeeded {
		return false
	}
	summary.RequireFullCompensation = true
	summary.ManualRecoveryRequired = true
	return true
}
