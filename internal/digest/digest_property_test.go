package digest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/spellruntime/spell/internal/digest"
)

// TestDigestStabilityProperty checks the mutation half of the corpus's I1:
// for generated step-file content, appending one byte to a digested file
// always changes the digest. Agreement between two trees built from the same
// content is covered by TestBundleDeterministic.
func TestDigestStabilityProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 40
	props := gopter.NewProperties(params)

	props.Property("mutating any digested byte changes the digest", prop.ForAll(
		func(content string) bool {
			root := t.TempDir()
			require := func(err error) {
				if err != nil {
					t.Fatal(err)
				}
			}
			require(os.WriteFile(filepath.Join(root, digest.ManifestFile), []byte("id: a/b\nversion: 1.0.0\n"), 0o644))
			require(os.WriteFile(filepath.Join(root, digest.SchemaFile), []byte(`{"type":"object"}`), 0o644))
			require(os.MkdirAll(filepath.Join(root, "steps"), 0o755))
			require(os.WriteFile(filepath.Join(root, "steps", "a.sh"), []byte(content), 0o644))

			before, err := digest.Bundle(root)
			require(err)

			mutated := append([]byte(content), 'x')
			require(os.WriteFile(filepath.Join(root, "steps", "a.sh"), mutated, 0o644))
			after, err := digest.Bundle(root)
			require(err)

			return before.Hex != after.Hex
		},
		gen.AlphaString(),
	))

	props.TestingRun(t)
}
