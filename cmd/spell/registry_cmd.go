package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spellruntime/spell/internal/registry"
)

func buttonsPath() string {
	return filepath.Join(defaultHome(), "buttons.json")
}

func runRegistryCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "set":
		return runRegistrySet(rest, stderr)
	case "add":
		return runRegistryAdd(rest, stderr)
	case "remove":
		return runRegistryRemove(rest, stderr)
	case "show":
		return runRegistryShow(stdout, stderr)
	case "validate":
		return runRegistryValidate(rest, stdout, stderr)
	case "resolve":
		return runRegistryResolve(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown registry subcommand: %s\n", sub)
		return 2
	}
}

func loadButtons() ([]registry.Button, error) {
	data, err := os.ReadFile(buttonsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []registry.Button
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func saveButtons(list []registry.Button) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(buttonsPath(), data, 0o644)
}

// runRegistrySet replaces the whole buttons.json with the given file's
// contents, after validating it loads cleanly.
func runRegistrySet(args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("registry set", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "path to a buttons.json to install (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "Usage: spell registry set --file F")
		return 2
	}
	if _, err := registry.Load(*file); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if err := os.WriteFile(buttonsPath(), data, 0o644); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runRegistryAdd(args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("registry add", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	spellID := cmd.String("spell-id", "", "spell id (REQUIRED)")
	version := cmd.String("version", "", "spell version")
	allowedRoles := cmd.String("allowed-roles", "", "comma-separated allowed roles")
	allowedTenants := cmd.String("allowed-tenants", "", "comma-separated allowed tenants")
	requireSignature := cmd.Bool("require-signature", false, "require a verified signature")
	riskConfirm := cmd.Bool("require-risk-confirm", false, "require yes=true on submission")
	billingConfirm := cmd.Bool("require-billing-confirm", false, "require allow_billing=true on submission")
	defaultsJSON := cmd.String("defaults", "", "JSON object of default input values")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 || *spellID == "" {
		fmt.Fprintln(stderr, "Usage: spell registry add --spell-id ID [flags] <button-id>")
		return 2
	}

	var defaults map[string]any
	if *defaultsJSON != "" {
		if err := json.Unmarshal([]byte(*defaultsJSON), &defaults); err != nil {
			fmt.Fprintf(stderr, "spell: --defaults: %v\n", err)
			return 2
		}
	}

	list, err := loadButtons()
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	for _, b := range list {
		if b.ButtonID == cmd.Arg(0) {
			fmt.Fprintf(stderr, "spell: button %q already exists\n", cmd.Arg(0))
			return 1
		}
	}

	list = append(list, registry.Button{
		ButtonID: cmd.Arg(0), SpellID: *spellID, Version: *version, Defaults: defaults,
		RequiredConfirmations: registry.RequiredConfirmations{Risk: *riskConfirm, Billing: *billingConfirm},
		AllowedRoles:          splitCSV(*allowedRoles),
		AllowedTenants:        splitCSV(*allowedTenants),
		RequireSignature:      *requireSignature,
	})
	if err := saveButtons(list); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func runRegistryRemove(args []string, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell registry remove <button-id>")
		return 2
	}
	list, err := loadButtons()
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	out := list[:0]
	found := false
	for _, b := range list {
		if b.ButtonID == args[0] {
			found = true
			continue
		}
		out = append(out, b)
	}
	if !found {
		fmt.Fprintf(stderr, "spell: no such button %q\n", args[0])
		return 1
	}
	if err := saveButtons(out); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runRegistryShow(stdout, stderr io.Writer) int {
	list, err := loadButtons()
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(list)
	return 0
}

func runRegistryValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell registry validate <file>")
		return 2
	}
	reg, err := registry.Load(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ok: %d buttons\n", len(reg.List()))
	return 0
}

func runRegistryResolve(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("registry resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	inputJSON := cmd.String("input", "{}", "JSON object of request input to merge over defaults")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell registry resolve [--input JSON] <button-id>")
		return 2
	}
	reg, err := registry.Load(buttonsPath())
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	button, ok := reg.Get(cmd.Arg(0))
	if !ok {
		fmt.Fprintf(stderr, "spell: no such button %q\n", cmd.Arg(0))
		return 1
	}
	var requestInput map[string]any
	if err := json.Unmarshal([]byte(*inputJSON), &requestInput); err != nil {
		fmt.Fprintf(stderr, "spell: --input: %v\n", err)
		return 2
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(button.MergeInput(requestInput))
	return 0
}
