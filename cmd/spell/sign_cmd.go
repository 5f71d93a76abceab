package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"github.com/spellruntime/spell/internal/trust"
)

func runSignCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "keygen":
		return runSignKeygen(rest, stdout, stderr)
	case "bundle":
		return runSignBundle(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown sign subcommand: %s\n", sub)
		return 2
	}
}

func runSignKeygen(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	keyID := cmd.String("key-id", "", "key id (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *keyID == "" {
		fmt.Fprintln(stderr, "Usage: spell sign keygen --key-id ID")
		return 2
	}
	kp, err := trust.GenerateKeyPair(*keyID)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "key_id: %s\npublic_key: %s\n", kp.KeyID, kp.PublicKeyBase64URL())
	fmt.Fprintf(stdout, "private_key: %x\n", []byte(kp.PrivateKey))
	fmt.Fprintln(stderr, "store the private key securely; it is not persisted by this command")
	return 0
}

func runSignBundle(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign bundle", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	publisher := cmd.String("publisher", "", "publisher id (REQUIRED)")
	keyID := cmd.String("key-id", "", "key id (REQUIRED)")
	privateKeyHex := cmd.String("private-key", "", "hex-encoded ed25519 private key (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 || *publisher == "" || *keyID == "" || *privateKeyHex == "" {
		fmt.Fprintln(stderr, "Usage: spell sign bundle [--publisher P --key-id ID --private-key HEX] <bundle-path>")
		return 2
	}

	privBytes, err := hex.DecodeString(*privateKeyHex)
	if err != nil || len(privBytes) != ed25519.PrivateKeySize {
		fmt.Fprintln(stderr, "spell: --private-key must be a hex-encoded ed25519 private key")
		return 2
	}
	priv := ed25519.PrivateKey(privBytes)
	kp := &trust.KeyPair{KeyID: *keyID, PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}

	sig, err := kp.SignBundle(cmd.Arg(0), *publisher)
	if err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	if err := trust.WriteSignatureFile(cmd.Arg(0), sig); err != nil {
		fmt.Fprintf(stderr, "spell: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s/%s\n", cmd.Arg(0), trust.SignatureFileName)
	return 0
}
