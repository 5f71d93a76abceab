package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spellruntime/spell/internal/trust"
)

func runTrustCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]
	store := trust.NewStore(filepath.Join(defaultHome(), "trust"))

	switch sub {
	case "add":
		return runTrustAdd(store, rest, stderr)
	case "list":
		return runTrustList(store, stdout, stderr)
	case "inspect":
		return runTrustInspect(store, rest, stdout, stderr)
	case "remove-key":
		return runTrustRemoveKey(store, rest, stderr)
	case "revoke-key":
		return runTrustRevokeKey(store, rest, stderr)
	case "restore-key":
		return runTrustRestoreKey(store, rest, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown trust subcommand: %s\n", sub)
		return 2
	}
}

func runTrustAdd(store *trust.Store, args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust add", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	keyID := cmd.String("key-id", "", "key id (REQUIRED)")
	publicKey := cmd.String("public-key", "", "base64url SPKI public key (REQUIRED)")
	algorithm := cmd.String("algorithm", "ed25519", "signature algorithm")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 || *keyID == "" || *publicKey == "" {
		fmt.Fprintln(stderr, "Usage: spell trust add [--key-id ID --public-key KEY] <publisher>")
		return 2
	}
	err := store.Upsert(cmd.Arg(0), trust.Key{KeyID: *keyID, Algorithm: *algorithm, PublicKey: *publicKey})
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runTrustList(store *trust.Store, stdout, stderr io.Writer) int {
	publishers, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	for _, p := range publishers {
		fmt.Fprintln(stdout, p)
	}
	return 0
}

func runTrustInspect(store *trust.Store, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: spell trust inspect <publisher>")
		return 2
	}
	rec, err := store.Load(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if rec == nil {
		fmt.Fprintf(stderr, "spell: no trust record for %q\n", args[0])
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rec)
	return 0
}

func runTrustRemoveKey(store *trust.Store, args []string, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: spell trust remove-key <publisher> <key-id>")
		return 2
	}
	if err := store.Remove(args[0], args[1]); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runTrustRevokeKey(store *trust.Store, args []string, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust revoke-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	reason := cmd.String("reason", "", "revocation reason")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 2 {
		fmt.Fprintln(stderr, "Usage: spell trust revoke-key [--reason R] <publisher> <key-id>")
		return 2
	}
	if err := store.Revoke(cmd.Arg(0), cmd.Arg(1), *reason); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}

func runTrustRestoreKey(store *trust.Store, args []string, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: spell trust restore-key <publisher> <key-id>")
		return 2
	}
	if err := store.Restore(args[0], args[1]); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	return 0
}
