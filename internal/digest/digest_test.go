package digest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/digest"
)

func writeBundle(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, digest.ManifestFile), []byte("id: a/b\nversion: 1.0.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, digest.SchemaFile), []byte(`{"type":"object"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "steps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "steps", "hello.sh"), []byte("echo hello\n"), 0o755))
}

func TestBundleDeterministic(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeBundle(t, a)
	writeBundle(t, b)

	da, err := digest.Bundle(a)
	require.NoError(t, err)
	db, err := digest.Bundle(b)
	require.NoError(t, err)

	require.Equal(t, da.Hex, db.Hex)
	require.Len(t, da.Raw, 32)
}

func TestBundleChangesOnByteFlip(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root)
	d1, err := digest.Bundle(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "steps", "hello.sh"), []byte("echo hellX\n"), 0o755))
	d2, err := digest.Bundle(root)
	require.NoError(t, err)

	require.NotEqual(t, d1.Hex, d2.Hex)
}

func TestBundleRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root)
	other := filepath.Join(t.TempDir(), "outside.sh")
	require.NoError(t, os.WriteFile(other, []byte("echo hi\n"), 0o644))
	require.NoError(t, os.Symlink(other, filepath.Join(root, "steps", "link.sh")))

	_, err := digest.Bundle(root)
	require.Error(t, err)
}

func TestBundleIgnoresSignatureFile(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root)
	d1, err := digest.Bundle(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "spell.sig.json"), []byte(`{"version":"v1"}`), 0o644))
	d2, err := digest.Bundle(root)
	require.NoError(t, err)

	require.Equal(t, d1.Hex, d2.Hex)
}
