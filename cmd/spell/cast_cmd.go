package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spellruntime/spell/internal/cast"
	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/policy"
	"github.com/spellruntime/spell/internal/receipt"
	"github.com/spellruntime/spell/internal/trust"
)

// multiFlag collects repeated -p key=value overrides.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

// runCastCmd runs the full gated cast sequence for one installed spell.
func runCastCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cast", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	home := cmd.String("home", defaultHome(), "spell home directory")
	version := cmd.String("version", "", "spell version (defaults to latest installed)")
	inputPath := cmd.String("input", "", "path to a JSON input document")
	dryRun := cmd.Bool("dry-run", false, "validate and gate without executing")
	yes := cmd.Bool("yes", false, "confirm a high/critical risk spell")
	allowBilling := cmd.Bool("allow-billing", false, "confirm a billable spell")
	requireSignature := cmd.Bool("require-signature", false, "fail unless the bundle's signature verifies")
	timeoutMs := cmd.Int("timeout-ms", 0, "absolute execution deadline in milliseconds (0 disables)")
	policyPath := cmd.String("policy", "", "path to policy.json (defaults to allow-all)")
	celOn := cmd.Bool("policy-cel", false, "evaluate the policy's custom_rule")
	jsonOut := cmd.Bool("json", false, "print the receipt as JSON")
	var overrides multiFlag
	cmd.Var(&overrides, "p", "key=value input override (repeatable)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell cast [flags] <id>")
		return 2
	}

	var inputJSON []byte
	if *inputPath != "" {
		data, err := os.ReadFile(*inputPath)
		if err != nil {
			fmt.Fprintf(stderr, "spell: reading --input: %v\n", err)
			return 2
		}
		inputJSON = data
	}

	pol := policy.AllowAll()
	if *policyPath != "" {
		p, err := policy.Load(*policyPath)
		if err != nil {
			fmt.Fprintf(stderr, "spell: loading policy: %v\n", err)
			return 2
		}
		pol = p
	}

	opts := cast.Options{
		Home: *home, ID: cmd.Arg(0), Version: *version,
		InputJSON: inputJSON, Overrides: overrides,
		DryRun: *dryRun, Yes: *yes, AllowBilling: *allowBilling,
		RequireSignature: *requireSignature,
		Env:              envMap(),
		TrustStore:       trust.NewStore(filepath.Join(*home, "trust")),
		LicenseStore:     entitlement.NewLicenseStore(filepath.Join(*home, "licenses")),
		Policy:           pol,
		PolicyCELOn:      *celOn,
		ExecutionTimeout: time.Duration(*timeoutMs) * time.Millisecond,
	}

	rec, err := cast.Cast(context.Background(), opts)
	if rec != nil {
		printReceipt(stdout, rec, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(stderr, "spell: cast failed: %v\n", err)
		return 1
	}
	return 0
}

func envMap() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func printReceipt(w io.Writer, rec *receipt.Receipt, jsonOut bool) {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
		return
	}
	status := "FAILED"
	if rec.Success {
		status = "OK"
	}
	fmt.Fprintf(w, "%s %s@%s (%s)\n", status, rec.ID, rec.Version, rec.ExecutionID)
	if rec.Error != "" {
		fmt.Fprintf(w, "  error: [%s] %s\n", rec.ErrorCode, rec.Error)
	}
	for _, s := range rec.Steps {
		stepStatus := "ok"
		if !s.Success {
			stepStatus = "fail"
		}
		fmt.Fprintf(w, "  step %-20s %s\n", s.StepName, stepStatus)
	}
	if rec.Rollback != nil {
		fmt.Fprintf(w, "  rollback: %s\n", rec.Rollback.State)
	}
}

// runLogCmd prints a past execution's full receipt.
func runLogCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell log [--home DIR] <execution-id>")
		return 2
	}
	rec, err := loadReceipt(*home, cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	printReceipt(stdout, rec, true)
	return 0
}

// runGetOutputCmd prints one declared output of a past execution.
func runGetOutputCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("get-output", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 2 {
		fmt.Fprintln(stderr, "Usage: spell get-output [--home DIR] <execution-id> <output-key>")
		return 2
	}
	rec, err := loadReceipt(*home, cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	value, ok := rec.Outputs[cmd.Arg(1)]
	if !ok {
		fmt.Fprintf(stderr, "spell: no such output %q\n", cmd.Arg(1))
		return 1
	}
	if s, ok := value.(string); ok {
		fmt.Fprintln(stdout, s)
		return 0
	}
	enc := json.NewEncoder(stdout)
	_ = enc.Encode(value)
	return 0
}

func loadReceipt(home, executionID string) (*receipt.Receipt, error) {
	data, err := os.ReadFile(filepath.Join(home, "logs", executionID+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}
	var rec receipt.Receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing receipt: %w", err)
	}
	return &rec, nil
}
