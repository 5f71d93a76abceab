package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spellruntime/spell/internal/entitlement"
)

func runLicenseCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]
	store := entitlement.NewLicenseStore(filepath.Join(defaultHome(), "licenses"))

	switch sub {
	case "add":
		return runLicenseAdd(store, rest, stderr)
	case "list":
		return runLicenseList(store, stdout, stderr)
	case "inspect":
		return runLicenseInspect(store, rest, stdout, stderr)
	case "remove":
		return runLicenseRemove(store, rest, stderr)
	case "revoke":
		return runLicenseRevoke(store, rest, stderr)
	case "restore":
		return runLicenseRestore(store, rest, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown license subcommand: %s\n", sub)
		return 2
	}
}

func runLicenseAdd(store *entitlement.LicenseStore, args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("license add", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	token := cmd.String("token", "", "ent1.<payload>.<sig> entitlement token (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 || *token == "" {
		fmt.Fprintln(stderr, "Usage: spell license add --token T <name>")
		return 2
	}
	if _, err := store.Add(cmd.Arg(0), *token); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runLicenseList(store *entitlement.LicenseStore, stdout, stderr io.Writer) int {
	licenses, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	for _, l := range licenses {
		status := "active"
		if l.Revoked {
			status = "revoked"
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", l.Name, l.Claims.Mode, status)
	}
	return 0
}

func runLicenseInspect(store *entitlement.LicenseStore, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell license inspect <name>")
		return 2
	}
	lic, err := store.Get(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if lic == nil {
		fmt.Fprintf(stderr, "spell: no such license %q\n", args[0])
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(lic)
	return 0
}

func runLicenseRemove(store *entitlement.LicenseStore, args []string, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell license remove <name>")
		return 2
	}
	if err := store.Remove(args[0]); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runLicenseRevoke(store *entitlement.LicenseStore, args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("license revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	reason := cmd.String("reason", "", "revocation reason")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell license revoke [--reason R] <name>")
		return 2
	}
	if err := store.Revoke(cmd.Arg(0), *reason); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runLicenseRestore(store *entitlement.LicenseStore, args []string, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell license restore <name>")
		return 2
	}
	if err := store.Restore(args[0]); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}
