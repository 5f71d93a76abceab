package cast

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/manifest"
	"github.com/spellruntime/spell/internal/policy"
	"github.com/spellruntime/spell/internal/receipt"
	"github.com/spellruntime/spell/internal/scheduler"
	"github.com/spellruntime/spell/internal/template"
	"github.com/spellruntime/spell/internal/trust"
)

// Options is one `cast` invocation's full set of inputs.
type Options struct {
	Home    string
	ID      string
	Version string

	InputJSON []byte
	Overrides []string
	MaxInputBytes int

	DryRun           bool
	Yes              bool
	AllowBilling     bool
	RequireSignature bool
	AllowUnsigned    bool

	HostPlatform string // defaults to runtime.GOOS+"/"+runtime.GOARCH
	Env          map[string]string

	TrustStore    *trust.Store
	LicenseStore  *entitlement.LicenseStore
	Policy        *policy.Policy
	PolicyCELOn   bool

	ExecutionTimeout time.Duration // 0 disables the deadline
	Now              time.Time
}

// Cast runs the full 13-step sequence of §4.10. Once the installed bundle
// resolves it always returns a receipt — even a failing cast produces one,
// with Success=false and the gate's error_code recorded. If the bundle
// cannot be resolved, Cast returns a nil receipt and the error.
func Cast(ctx context.Context, opts Options) (*receipt.Receipt, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.HostPlatform == "" {
		opts.HostPlatform = runtime.GOOS + "/" + runtime.GOARCH
	}
	if opts.Policy == nil {
		opts.Policy = policy.AllowAll()
	}

	// Step 1: resolve installed bundle + execution id.
	resolved, err := ResolveInstalled(opts.Home, opts.ID, opts.Version)
	if err != nil {
		return nil, err
	}
	m := resolved.Manifest
	executionID := fmt.Sprintf("%s_%s_%s",
		opts.Now.Format("20060102T150405Z"), sanitizeIDSegment(m.ID), sanitizeIDSegment(m.Version))

	rec := &receipt.Receipt{
		ExecutionID: executionID,
		ID:          m.ID,
		Version:     m.Version,
		StartedAt:   opts.Now,
		Summary: receipt.Summary{
			Risk:    string(m.Risk),
			Billing: m.Billing,
			Runtime: m.Runtime,
		},
	}

	fail := func(err error) (*receipt.Receipt, error) {
		rec.FinishedAt = time.Now().UTC()
		rec.Success = false
		rec.Error = err.Error()
		if ge, ok := err.(*GateError); ok {
			rec.ErrorCode = ge.Code
		}
		writeErr := writeReceipt(opts.Home, rec)
		if writeErr != nil {
			return rec, fmt.Errorf("%w (also failed writing receipt: %v)", err, writeErr)
		}
		return rec, err
	}

	// Step 2: build input.
	input, err := BuildInput(opts.InputJSON, opts.Overrides, opts.MaxInputBytes)
	if err != nil {
		return fail(&GateError{Code: "BAD_REQUEST", Message: err.Error()})
	}
	rec.Input = redactedCopy(input)

	// Step 3: schema validation.
	if err := manifest.ValidateInput(resolved.BundlePath, input); err != nil {
		return fail(&GateError{Code: "SCHEMA_VALIDATION", Message: err.Error()})
	}

	// Step 4: signature verification.
	sigResult := trust.Verify(opts.TrustStore, resolved.BundlePath, m.ID)
	rec.Signature = receipt.SignatureInfo{
		Required: opts.RequireSignature, Status: string(sigResult.Status),
		Publisher: sigResult.Publisher, KeyID: sigResult.KeyID, Digest: sigResult.Digest.Hex,
	}
	if opts.RequireSignature && sigResult.Status != trust.StatusVerified {
		code := "SIGNATURE_INVALID"
		switch sigResult.Status {
		case trust.StatusUnsigned:
			code = "SIGNATURE_REQUIRED"
		case trust.StatusUntrusted:
			code = "SIGNATURE_UNTRUSTED"
		}
		return fail(&GateError{Code: code, Message: sigResult.Message})
	}

	// Step 5: policy evaluation.
	polCtx := policy.Context{
		SpellID: m.ID, Publisher: m.Publisher(), Risk: string(m.Risk),
		Execution: string(m.Runtime.Execution), SignatureStatus: string(sigResult.Status),
	}
	for _, e := range m.Effects {
		polCtx.Effects = append(polCtx.Effects, policy.EffectContext{Type: e.Type, Target: e.Target, Mutates: e.Mutates})
	}
	decision := policy.Evaluate(opts.Policy, polCtx, opts.PolicyCELOn)
	if !decision.Allow {
		return fail(&GateError{Code: "POLICY_DENIED", Message: "policy denied: " + decision.Reason})
	}

	// Step 6: platform gate.
	if err := CheckPlatform(m, opts.HostPlatform); err != nil {
		return fail(err)
	}

	// Step 7: risk gate.
	if err := CheckRisk(m, opts.Yes); err != nil {
		return fail(err)
	}

	// Step 8: billing gates.
	if err := CheckBilling(m, opts.AllowBilling, opts.LicenseStore, opts.Now); err != nil {
		return fail(err)
	}
	if m.Billing.Enabled {
		rec.Summary.License = receipt.LicenseInfo{Licensed: true}
	}

	// Step 9: permission gate.
	if err := CheckPermissions(m, opts.Env); err != nil {
		return fail(err)
	}

	// Step 10: dry-run shortcut.
	if opts.DryRun {
		rec.FinishedAt = time.Now().UTC()
		rec.Success = true
		rec.Rollback = &receipt.RollbackSummary{State: receipt.RollbackNotNeeded}
		if err := writeReceipt(opts.Home, rec); err != nil {
			return rec, err
		}
		return rec, nil
	}

	// Step 11: execute.
	var deadline time.Time
	if opts.ExecutionTimeout > 0 {
		deadline = opts.Now.Add(opts.ExecutionTimeout)
	}

	var steps []receipt.StepResult
	var outputs map[string]any
	var rollback *receipt.RollbackSummary
	var execErr error

	if m.Runtime.Execution == manifest.ExecutionDocker {
		res, err := runInDocker(ctx, m, resolved.BundlePath, input, opts.ExecutionTimeout)
		if err != nil {
			execErr = err
		} else {
			steps, outputs, rollback = res.Steps, res.Outputs, res.Rollback
			if res.Error != "" {
				execErr = fmt.Errorf("%s", res.Error)
			}
		}
	} else {
		result := scheduler.Run(ctx, scheduler.Options{
			BundlePath: resolved.BundlePath, Manifest: m, Input: input, Env: opts.Env,
			ExecutionDeadline: deadline, ExecutionTimeout: opts.ExecutionTimeout,
		})
		steps, rollback, execErr = result.Steps, result.Rollback, result.Err
		outputs = map[string]any(result.Outputs)
	}

	rec.Steps = steps
	rec.Outputs = outputs
	rec.Rollback = rollback

	if rollback != nil && opts.Policy.Rollback != nil && opts.Policy.Rollback.RequireFullCompensation {
		if scheduler.ApplyPolicyEscalation(rollback, true) {
			rec.FinishedAt = time.Now().UTC()
			rec.Success = false
			rec.ErrorCode = "COMPENSATION_INCOMPLETE"
			rec.Error = "rollback did not fully compensate and policy requires full compensation"
			if err := writeReceipt(opts.Home, rec); err != nil {
				return rec, err
			}
			return rec, fmt.Errorf("%s", rec.Error)
		}
	}

	if execErr != nil {
		rec.FinishedAt = time.Now().UTC()
		rec.Success = false
		rec.Error = execErr.Error()
		rec.ErrorCode = classifyExecError(execErr)
		if err := writeReceipt(opts.Home, rec); err != nil {
			return rec, err
		}
		return rec, execErr
	}

	// Step 12: evaluate declared checks.
	allChecksPassed := true
	for _, c := range m.Checks {
		actual, err := template.Outputs(outputs).Resolve(c.OutputPath)
		success := err == nil
		message := "ok"
		if err != nil {
			message = err.Error()
		} else if c.Equals != nil && !template.ValuesEqual(actual, *c.Equals) {
			success, message = false, fmt.Sprintf("expected %v, got %v", *c.Equals, actual)
		} else if c.NotEquals != nil && template.ValuesEqual(actual, *c.NotEquals) {
			success, message = false, fmt.Sprintf("expected not %v", *c.NotEquals)
		}
		rec.Checks = append(rec.Checks, receipt.CheckResult{Name: c.Name, Success: success, Message: message})
		if !success {
			allChecksPassed = false
		}
	}

	// Step 13: always write receipt.
	rec.FinishedAt = time.Now().UTC()
	rec.Success = allChecksPassed
	if !allChecksPassed {
		rec.ErrorCode = "STEP_FAILED"
		rec.Error = "one or more declared checks failed"
	}
	if err := writeReceipt(opts.Home, rec); err != nil {
		return rec, err
	}
	if !allChecksPassed {
		return rec, fmt.Errorf("%s", rec.Error)
	}
	return rec, nil
}

func classifyExecError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "step dependency deadlock"):
		return "STEP_DEADLOCK"
	case strings.Contains(msg, "timed out"):
		if strings.Contains(msg, "cast execution timed out") {
			return "EXECUTION_TIMEOUT"
		}
		return "STEP_TIMEOUT"
	default:
		return "STEP_FAILED"
	}
}

func redactedCopy(input map[string]any) map[string]any {
	out, err := receipt.RedactJSON(input)
	if err != nil {
		return input
	}
	return out
}

func writeReceipt(home string, rec *receipt.Receipt) error {
	dir := filepath.Join(home, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, rec.ExecutionID+".json")
	return atomicWriteJSON(path, rec)
}
