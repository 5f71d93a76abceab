package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spellruntime/spell/internal/policy"
)

func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]
	path := filepath.Join(defaultHome(), "policy.json")

	switch sub {
	case "show":
		return runPolicyShow(path, stdout, stderr)
	case "validate":
		return runPolicyValidate(rest, stdout, stderr)
	case "set":
		return runPolicySet(path, rest, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown policy subcommand: %s\n", sub)
		return 2
	}
}

func runPolicyShow(path string, stdout, stderr io.Writer) int {
	p, err := policy.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(p)
	return 0
}

func runPolicyValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell policy validate <file>")
		return 2
	}
	p, err := policy.Load(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ok: version=%s default=%s\n", p.Version, p.Default)
	return 0
}

func runPolicySet(path string, args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy set", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "path to a policy.json to install as the active policy (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "Usage: spell policy set --file F")
		return 2
	}
	p, err := policy.Load(*file)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if err := policy.Save(path, p); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}
