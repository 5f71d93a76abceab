package trust_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/spellruntime/spell/internal/trust"
)

// TestVerifySoundnessProperty is the corpus's I2: a bundle whose
// spell.sig.json was produced by a trusted, non-revoked key for its current
// digest always verifies, and mutating any byte of the signed bundle after
// signing always strictly fails verification (digest mismatch).
func TestVerifySoundnessProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	props := gopter.NewProperties(params)

	props.Property("a signature verifies iff the bundle is unmodified since signing", prop.ForAll(
		func(content string) bool {
			bundlePath := t.TempDir()
			trustRoot := t.TempDir()

			must := func(err error) {
				if err != nil {
					t.Fatal(err)
				}
			}
			must(os.MkdirAll(filepath.Join(bundlePath, "steps"), 0o755))
			must(os.WriteFile(filepath.Join(bundlePath, "spell.yaml"), []byte("id: acme/demo\nversion: 1.0.0\n"), 0o644))
			must(os.WriteFile(filepath.Join(bundlePath, "schema.json"), []byte(`{"type":"object"}`), 0o644))
			must(os.WriteFile(filepath.Join(bundlePath, "steps", "a.sh"), []byte(content), 0o644))

			kp, err := trust.GenerateKeyPair("k1")
			must(err)

			sig, err := kp.SignBundle(bundlePath, "acme")
			must(err)
			must(trust.WriteSignatureFile(bundlePath, sig))

			store := trust.NewStore(trustRoot)
			must(store.Upsert("acme", trust.Key{KeyID: "k1", Algorithm: "ed25519", PublicKey: kp.PublicKeyBase64URL()}))

			before := trust.Verify(store, bundlePath, "acme/demo")
			if before.Status != trust.StatusVerified {
				return false
			}

			mutated := append([]byte(content), 'x')
			must(os.WriteFile(filepath.Join(bundlePath, "steps", "a.sh"), mutated, 0o644))
			after := trust.Verify(store, bundlePath, "acme/demo")

			return after.Status == trust.StatusInvalid
		},
		gen.AlphaString(),
	))

	props.Property("revoking the signing key turns a verified bundle invalid", prop.ForAll(
		func(content string) bool {
			bundlePath := t.TempDir()
			trustRoot := t.TempDir()

			must := func(err error) {
				if err != nil {
					t.Fatal(err)
				}
			}
			must(os.MkdirAll(filepath.Join(bundlePath, "steps"), 0o755))
			must(os.WriteFile(filepath.Join(bundlePath, "spell.yaml"), []byte("id: acme/demo\nversion: 1.0.0\n"), 0o644))
			must(os.WriteFile(filepath.Join(bundlePath, "schema.json"), []byte(`{"type":"object"}`), 0o644))
			must(os.WriteFile(filepath.Join(bundlePath, "steps", "a.sh"), []byte(content), 0o644))

			kp, err := trust.GenerateKeyPair("k1")
			must(err)
			sig, err := kp.SignBundle(bundlePath, "acme")
			must(err)
			must(trust.WriteSignatureFile(bundlePath, sig))

			store := trust.NewStore(trustRoot)
			must(store.Upsert("acme", trust.Key{KeyID: "k1", Algorithm: "ed25519", PublicKey: kp.PublicKeyBase64URL()}))
			must(store.Revoke("acme", "k1", "rotated"))

			result := trust.Verify(store, bundlePath, "acme/demo")
			return result.Status == trust.StatusInvalid
		},
		gen.AlphaString(),
	))

	props.TestingRun(t)
}
