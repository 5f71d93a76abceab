package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spellruntime/spell/internal/digest"
)

// Status is the outcome of signature verification.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusVerified  Status = "verified"
	StatusUnsigned  Status = "unsigned"
	StatusUntrusted Status = "untrusted"
	StatusInvalid   Status = "invalid"
)

// SignatureFile is the parsed shape of spell.sig.json.
type SignatureFile struct {
	Version   string `json:"version"`
	Publisher string `json:"publisher"`
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	Digest    struct {
		Algorithm string `json:"algorithm"`
		Value     string `json:"value"`
	} `json:"digest"`
	Signature string `json:"signature"`
}

const SignatureFileName = "spell.sig.json"

// Result carries the verification outcome plus the fields an execution
// receipt's signature block needs.
type Result struct {
	Status    Status
	Publisher string
	KeyID     string
	Digest    digest.Digest
	Message   string
}

// Verify implements §4.3's 6-step procedure. publisherFromID extracts the
// publisher segment of a manifest id of the form "publisher/name".
func Verify(store *Store, bundlePath string, manifestID string) Result {
	d, digestErr := digest.Bundle(bundlePath)
	// Even on a digest error we must still return a non-verified status
	// rather than propagate, per the fail-closed contract of this function.

	sigPath := filepath.Join(bundlePath, SignatureFileName)
	raw, err := os.ReadFile(sigPath)
	if os.IsNotExist(err) {
		return Result{Status: StatusUnsigned, Digest: d, Message: "no spell.sig.json present"}
	}
	if err != nil {
		return Result{Status: StatusInvalid, Digest: d, Message: fmt.Sprintf("reading signature file: %v", err)}
	}

	var sig SignatureFile
	if err := json.Unmarshal(raw, &sig); err != nil {
		return Result{Status: StatusInvalid, Digest: d, Message: fmt.Sprintf("parsing signature file: %v", err)}
	}

	expectedPublisher := publisherFromID(manifestID)
	if sig.Publisher != expectedPublisher {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("signature publisher %q does not match manifest publisher %q", sig.Publisher, expectedPublisher)}
	}

	rec, err := store.Load(sig.Publisher)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("loading trust record: %v", err)}
	}
	if rec == nil {
		return Result{Status: StatusUntrusted, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("no trust record for publisher %s", sig.Publisher)}
	}

	var key *Key
	for i := range rec.Keys {
		if rec.Keys[i].KeyID == sig.KeyID {
			key = &rec.Keys[i]
			break
		}
	}
	if key == nil {
		return Result{Status: StatusUntrusted, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("unknown key id %s for publisher %s", sig.KeyID, sig.Publisher)}
	}
	if key.Revoked {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("key %s has been revoked: %s", sig.KeyID, key.RevokeReason)}
	}

	if digestErr != nil {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("computing bundle digest: %v", digestErr)}
	}
	if sig.Digest.Value != d.Hex {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: "recomputed digest does not match signature"}
	}

	pubDER, err := base64.RawURLEncoding.DecodeString(key.PublicKey)
	if err != nil {
		if decoded, altErr := base64.URLEncoding.DecodeString(key.PublicKey); altErr == nil {
			pubDER = decoded
		} else {
			return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
				Message: fmt.Sprintf("decoding public key: %v", err)}
		}
	}
	pub, err := extractEd25519SPKI(pubDER)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("decoding SPKI public key: %v", err)}
	}

	sigBytes, err := decodeSignature(sig.Signature)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("decoding signature bytes: %v", err)}
	}

	digestBytes, err := hex.DecodeString(sig.Digest.Value)
	if err != nil {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: fmt.Sprintf("decoding signed digest hex: %v", err)}
	}

	if !ed25519.Verify(pub, digestBytes, sigBytes) {
		return Result{Status: StatusInvalid, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d,
			Message: "ed25519 signature verification failed"}
	}

	return Result{Status: StatusVerified, Publisher: sig.Publisher, KeyID: sig.KeyID, Digest: d, Message: "ok"}
}

// decodeSignature accepts base64url first, falling back to hex, mirroring
// the lenient decode-signature pattern in the teacher's signature_verifier.go
// (base64 then hex fallback), narrowed to base64url per the spec's wire
// format as the primary path.
func decodeSignature(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return hex.DecodeString(s)
}

func publisherFromID(id string) string {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}

// extractEd25519SPKI pulls the raw 32-byte ed25519 public key out of a
// minimal SPKI DER wrapper (its trailing 32 bytes), or accepts a bare 32-byte
// key directly, which is the form `sign keygen` prints via
// KeyPair.PublicKeyBase64URL.
func extractEd25519SPKI(der []byte) (ed25519.PublicKey, error) {
	if len(der) == ed25519.PublicKeySize {
		return ed25519.PublicKey(der), nil
	}
	if len(der) > ed25519.PublicKeySize {
		raw := der[len(der)-ed25519.PublicKeySize:]
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("public key material too short: %d bytes", len(der))
}
