// Package receipt defines the execution receipt data model of §3 and the
// redaction pass of §4.10.
package receipt

import "time"

// StepResult is one step's outcome.
type StepResult struct {
	StepName    string    `json:"stepName"`
	Uses        string    `json:"uses"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Success     bool      `json:"success"`
	ExitCode    *int      `json:"exitCode,omitempty"`
	StdoutHead  string    `json:"stdout_head,omitempty"`
	StderrHead  string    `json:"stderr_head,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// RollbackState values.
type RollbackState string

const (
	RollbackNotNeeded            RollbackState = "not_needed"
	RollbackFullyCompensated     RollbackState = "fully_compensated"
	RollbackPartiallyCompensated RollbackState = "partially_compensated"
	RollbackNotCompensated       RollbackState = "not_compensated"
)

// RollbackSummary is the compensation accounting for one execution.
type RollbackSummary struct {
	TotalExecuted                 int           `json:"total_executed"`
	RollbackPlanned               int           `json:"rollback_planned"`
	RollbackAttempted             int           `json:"rollback_attempted"`
	RollbackSucceeded             int           `json:"rollback_succeeded"`
	RollbackFailed                int           `json:"rollback_failed"`
	RollbackSkippedWithoutHandler int           `json:"rollback_skipped_without_handler"`
	FailedRollbackSteps           []string      `json:"failed_rollback_steps,omitempty"`
	State                         RollbackState `json:"state"`
	RequireFullCompensation       bool          `json:"require_full_compensation,omitempty"`
	ManualRecoveryRequired        bool          `json:"manual_recovery_required,omitempty"`
}

// SignatureInfo is the receipt's signature block.
type SignatureInfo struct {
	Required  bool   `json:"required"`
	Status    string `json:"status"`
	Publisher string `json:"publisher,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Digest    string `json:"digest,omitempty"`
}

// LicenseInfo is the receipt summary's license block.
type LicenseInfo struct {
	Licensed bool   `json:"licensed"`
	Name     string `json:"name,omitempty"`
}

// Summary is the receipt's top-level summary block.
type Summary struct {
	Risk    string      `json:"risk"`
	Billing any         `json:"billing"`
	Runtime any         `json:"runtime"`
	License LicenseInfo `json:"license"`
}

// CheckResult is one declared check's outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Receipt is the full execution record written under logs/<execution_id>.json.
type Receipt struct {
	ExecutionID string                 `json:"execution_id"`
	ID          string                 `json:"id"`
	Version     string                 `json:"version"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Input       map[string]any         `json:"input"`
	Summary     Summary                `json:"summary"`
	Signature   SignatureInfo          `json:"signature"`
	Steps       []StepResult           `json:"steps"`
	Outputs     map[string]any         `json:"outputs"`
	Checks      []CheckResult          `json:"checks,omitempty"`
	Rollback    *RollbackSummary       `json:"rollback,omitempty"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
}
