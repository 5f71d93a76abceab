package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spellruntime/spell/internal/cast"
	"github.com/spellruntime/spell/internal/trust"
)

// runVerifyCmd checks an installed bundle's spell.sig.json against the
// local trust store without running the full cast sequence.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	home := cmd.String("home", defaultHome(), "spell home directory")
	version := cmd.String("version", "", "spell version (defaults to latest installed)")
	jsonOut := cmd.Bool("json", false, "output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: spell verify [--version V] <id>")
		return 2
	}

	resolved, err := cast.ResolveInstalled(*home, cmd.Arg(0), *version)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	store := trust.NewStore(filepath.Join(*home, "trust"))
	result := trust.Verify(store, resolved.BundlePath, resolved.Manifest.ID)

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"status": result.Status, "publisher": result.Publisher,
			"key_id": result.KeyID, "digest": result.Digest.Hex, "message": result.Message,
		})
	} else {
		fmt.Fprintf(stdout, "status: %s\n", result.Status)
		if result.Message != "" {
			fmt.Fprintf(stdout, "message: %s\n", result.Message)
		}
	}
	if result.Status != trust.StatusVerified {
		return 1
	}
	return 0
}
