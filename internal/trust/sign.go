package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spellruntime/spell/internal/digest"
)

// KeyPair is a generated ed25519 publisher signing key. Grounded on the
// teacher's crypto.Ed25519Signer, adapted to emit base64url-encoded raw
// public-key bytes in place of the teacher's hex encoding, per the spec's
// SPKI/base64url wire format.
type KeyPair struct {
	KeyID      string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a new ed25519 signing key with the given id.
func GenerateKeyPair(keyID string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("trust: generate key: %w", err)
	}
	return &KeyPair{KeyID: keyID, PublicKey: pub, PrivateKey: priv}, nil
}

// PublicKeyBase64URL returns the raw public key bytes, base64url encoded,
// the form stored in a trust record's public_key field.
func (kp *KeyPair) PublicKeyBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(kp.PublicKey)
}

// SignBundle computes the bundle digest and produces the spell.sig.json
// document for it.
func (kp *KeyPair) SignBundle(bundlePath, publisher string) (SignatureFile, error) {
	d, err := digest.Bundle(bundlePath)
	if err != nil {
		return SignatureFile{}, err
	}
	digestBytes, err := hex.DecodeString(d.Hex)
	if err != nil {
		return SignatureFile{}, err
	}
	sig := ed25519.Sign(kp.PrivateKey, digestBytes)

	out := SignatureFile{
		Version:   "v1",
		Publisher: publisher,
		KeyID:     kp.KeyID,
		Algorithm: "ed25519",
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}
	out.Digest.Algorithm = "sha256"
	out.Digest.Value = d.Hex
	return out, nil
}

// WriteSignatureFile writes spell.sig.json into the bundle directory.
func WriteSignatureFile(bundlePath string, sig SignatureFile) error {
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bundlePath, SignatureFileName), data, 0o644)
}
